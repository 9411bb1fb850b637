// Package streamquery implements the stream-query compiler (spec §4.4): parsing the several wire shapes a stream-set
// expression may arrive in, validating and expanding it against a user's stream tree, masking it by the caller's
// effective permissions, and emitting the store-level filter tree internal/event's repository consumes.
package streamquery

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/pryv-io/core/internal/event"
	"github.com/pryv-io/core/internal/legacyprefix"
	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/stream"
)

// Sentinel errors for the streamquery package, named after the API error kinds they map to (§4.4 step 1-2, 4).
var (
	ErrMixedStores           = errors.New("all stream ids within one conjunct must belong to the same store")
	ErrMissingAny            = errors.New("a stream-query conjunct must contain \"any\"")
	ErrUnknownKey            = errors.New("stream-query conjunct contains an unrecognized key")
	ErrEmptyAny              = errors.New("\"any\" must be non-empty")
	ErrWildcardMixedWithIDs  = errors.New("\"*\" cannot be mixed with other stream ids in \"any\"")
	ErrWildcardMixedWithAll  = errors.New("\"*\" cannot be mixed with \"all\"")
	ErrUnknownReferencedID   = errors.New("streamId does not refer to any stream known to the user")
)

// Conjunct is one `{any, all?, not?}` term of the logical disjunction (design notes §9).
type Conjunct struct {
	Any []string
	All []string
	Not []string
}

// Query is the parsed, pre-expansion stream-query expression: a disjunction of Conjuncts.
type Query []Conjunct

// Parse accepts any of the wire shapes named in §4.4: a single stream id, a JSON array of ids, a query object, an
// array of query objects, or any of those JSON-stringified (as arrives via a query-string parameter). raw is the
// already-JSON-decoded value when it arrived as a request body field, or the raw string when it arrived as a query
// parameter (a string is json.Unmarshalled first if it looks like JSON).
func Parse(raw any) (Query, error) {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return nil, ErrEmptyAny
		}
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "\"") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return Parse(decoded)
			}
		}
		return Query{{Any: []string{s}}}, nil
	}

	switch v := raw.(type) {
	case []string:
		return Query{{Any: v}}, nil
	case []any:
		if len(v) == 0 {
			return nil, ErrEmptyAny
		}
		if _, ok := v[0].(string); ok {
			ids := make([]string, len(v))
			for i, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, ErrMissingAny
				}
				ids[i] = s
			}
			return Query{{Any: ids}}, nil
		}
		var out Query
		for _, item := range v {
			c, err := parseConjunctObject(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case map[string]any:
		c, err := parseConjunctObject(v)
		if err != nil {
			return nil, err
		}
		return Query{c}, nil
	default:
		return nil, ErrMissingAny
	}
}

func parseConjunctObject(raw any) (Conjunct, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Conjunct{}, ErrMissingAny
	}
	var c Conjunct
	for key, val := range m {
		switch key {
		case "any":
			ids, err := toStringSlice(val)
			if err != nil {
				return Conjunct{}, err
			}
			c.Any = ids
		case "all":
			ids, err := toStringSlice(val)
			if err != nil {
				return Conjunct{}, err
			}
			c.All = ids
		case "not":
			ids, err := toStringSlice(val)
			if err != nil {
				return Conjunct{}, err
			}
			c.Not = ids
		default:
			return Conjunct{}, ErrUnknownKey
		}
	}
	if c.Any == nil {
		return Conjunct{}, ErrMissingAny
	}
	return c, nil
}

func toStringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, ErrMissingAny
	}
	out := make([]string, len(arr))
	for i, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, ErrMissingAny
		}
		out[i] = s
	}
	return out, nil
}

// Validate checks shape invariants for every conjunct (§4.4 step 1-2): ids within one conjunct share a single store,
// "any" is non-empty, and "*" is never mixed with other ids in "any" or with "all".
func Validate(q Query) error {
	for _, c := range q {
		if len(c.Any) == 0 {
			return ErrEmptyAny
		}
		hasWildcard := false
		for _, id := range c.Any {
			if id == "*" {
				hasWildcard = true
			}
		}
		if hasWildcard {
			if len(c.Any) > 1 {
				return ErrWildcardMixedWithIDs
			}
			if len(c.All) > 0 {
				return ErrWildcardMixedWithAll
			}
		}
		if err := sameStore(c.Any); err != nil {
			return err
		}
		if err := sameStore(c.All); err != nil {
			return err
		}
		if err := sameStore(c.Not); err != nil {
			return err
		}
	}
	return nil
}

func sameStore(ids []string) error {
	var store string
	for i, id := range ids {
		if id == "*" {
			continue
		}
		s := stream.StoreOf(id)
		if i == 0 || store == "" {
			store = s
			continue
		}
		if s != store {
			return ErrMixedStores
		}
	}
	return nil
}

// Expand replaces each id in a conjunct with itself plus all non-trashed descendants (§4.4 step 3). A trailing "!"
// (e.g. "D!") means "that id exactly, no descendants". "*" expands to every non-trashed top-level stream of the tree
// together with its non-trashed descendants.
// unknownIDs, if non-nil, is appended with any id the tree doesn't recognize (used to distinguish "resolves to empty"
// from "names something that doesn't exist", §4.4 step 4).
func Expand(c Conjunct, tree *stream.Tree, unknownIDs *[]string) Conjunct {
	return Conjunct{
		Any: expandIDs(c.Any, tree, unknownIDs),
		All: expandIDs(c.All, tree, unknownIDs),
		Not: expandIDs(c.Not, tree, unknownIDs),
	}
}

func expandIDs(ids []string, tree *stream.Tree, unknownIDs *[]string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, raw := range ids {
		id := legacyprefix.NormalizeStreamID(raw)
		if id == "*" {
			for _, top := range tree.AllIDs(false) {
				add(top)
			}
			continue
		}
		if strings.HasSuffix(id, "!") {
			exact := strings.TrimSuffix(id, "!")
			if !tree.Exists(exact) && unknownIDs != nil {
				*unknownIDs = append(*unknownIDs, exact)
			}
			add(exact)
			continue
		}
		if !tree.Exists(id) {
			if unknownIDs != nil {
				*unknownIDs = append(*unknownIDs, id)
			}
			continue
		}
		for _, d := range tree.Descendants(id, false) {
			add(d)
		}
	}
	return out
}

// Mask removes stream ids the evaluator denies read access to from an expanded conjunct (§4.4 step 4).
func Mask(c Conjunct, e *permission.Evaluator) Conjunct {
	return Conjunct{
		Any: filterReadable(c.Any, e),
		All: filterReadable(c.All, e),
		Not: c.Not, // "not" exclusions apply regardless of the caller's own read access to the excluded ids
	}
}

func filterReadable(ids []string, e *permission.Evaluator) []string {
	var out []string
	for _, id := range ids {
		if e.CanRead(id) {
			out = append(out, id)
		}
	}
	return out
}

// ToFilter emits the store-level filter tree from a fully expanded and masked Query (§4.4 step 5).
func ToFilter(q Query) event.Filter {
	f := event.Filter{}
	for _, c := range q {
		if len(c.Any) == 0 && len(c.All) == 0 {
			continue
		}
		f.Or = append(f.Or, event.Conjunct{In: c.Any, All: c.All, Nin: c.Not})
	}
	return f
}

// Compile runs the full pipeline (steps 1-5) over a raw wire-shaped stream-query expression, returning the store
// filter tree, or ErrUnknownReferencedID when any conjunct named an unknown stream id (§4.4 step 4:
// "unknown-referenced-resource").
func Compile(raw any, tree *stream.Tree, e *permission.Evaluator) (event.Filter, error) {
	q, err := Parse(raw)
	if err != nil {
		return event.Filter{}, err
	}
	if err := Validate(q); err != nil {
		return event.Filter{}, err
	}

	var unknown []string
	expanded := make(Query, len(q))
	for i, c := range q {
		expanded[i] = Mask(Expand(c, tree, &unknown), e)
	}
	if len(unknown) > 0 {
		return event.Filter{}, ErrUnknownReferencedID
	}
	return ToFilter(expanded), nil
}
