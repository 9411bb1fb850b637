// Package legacyprefix implements the backward-compatibility layer (spec §4.10): translating legacy dotted stream
// ids (".foo") to their canonical ":_system:foo" / ":system:foo" form on ingress, and the opposite translation on
// egress unless the caller disabled it. It is deliberately two pure functions over a single canonical id type
// (design notes §9), so evaluators and the query compiler never have to special-case the legacy form.
package legacyprefix

import (
	"strings"

	"github.com/pryv-io/core/internal/systemstream"
)

// DisableHeader is the request header that turns off egress translation for the current response.
const DisableHeader = "disable-backward-compatibility-prefix"

// NormalizeStreamID translates a legacy-format id (".foo") to its canonical prefixed form. Non-legacy ids pass
// through unchanged. Unknown ".foo" ids (no registered system stream named "foo") also pass through unchanged —
// translation only ever applies to *registered* system streams.
func NormalizeStreamID(id string) string {
	if !isLegacyForm(id) {
		return id
	}
	name := strings.TrimPrefix(id, systemstream.LegacyPrefix)
	for _, d := range systemstream.Tree {
		if d.Name == name {
			return d.ID
		}
	}
	return id
}

// DenormalizeStreamID reverses NormalizeStreamID: a canonical system-stream id is rewritten to its legacy dotted
// form. Ids that aren't registered system streams pass through unchanged.
func DenormalizeStreamID(id string) string {
	d, ok := systemstream.Lookup(id)
	if !ok {
		return id
	}
	return systemstream.LegacyPrefix + d.Name
}

func isLegacyForm(id string) bool {
	return strings.HasPrefix(id, systemstream.LegacyPrefix) && !strings.HasPrefix(id, systemstream.PrivatePrefix) && !strings.HasPrefix(id, systemstream.CustomerPrefix)
}

// TagStreamID maps a legacy `tag` value to the stream id it is represented as under the tag-root (spec §4.10: "`tag`
// query and `tags` body properties are translated to stream ids under the root `:_system:tag-root`").
func TagStreamID(tag string) string {
	return systemstream.TagRootID + ":" + tag
}

// IsTagStreamID reports whether id names a stream under the tag-root, and if so returns the original tag value.
func IsTagStreamID(id string) (tag string, ok bool) {
	prefix := systemstream.TagRootID + ":"
	if !strings.HasPrefix(id, prefix) {
		return "", false
	}
	return strings.TrimPrefix(id, prefix), true
}

// NormalizeTags converts a legacy `tags` list into the stream ids they represent, for merging into an event's
// streamIds during ingress translation.
func NormalizeTags(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = TagStreamID(t)
	}
	return out
}

// ExtractTags splits a stream id list into (non-tag stream ids, legacy tag values) for egress translation, so
// responses can surface both `streamIds` and the legacy `tags` array.
func ExtractTags(streamIDs []string) (rest []string, tags []string) {
	for _, id := range streamIDs {
		if tag, ok := IsTagStreamID(id); ok {
			tags = append(tags, tag)
			continue
		}
		rest = append(rest, id)
	}
	return rest, tags
}

// NormalizeStreamIDs applies NormalizeStreamID across a slice, a convenience for permission atoms and event
// streamIds that arrive as arrays.
func NormalizeStreamIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = NormalizeStreamID(id)
	}
	return out
}

// DenormalizeStreamIDs applies DenormalizeStreamID across a slice, used on egress unless the caller sent the
// DisableHeader.
func DenormalizeStreamIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = DenormalizeStreamID(id)
	}
	return out
}
