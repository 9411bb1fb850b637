// Package permission implements the permission evaluator (spec §4.3): given an access's permission atoms and a
// user's stream tree, it decides whether an operation on a stream is allowed and computes the effective level for
// any given stream.
package permission

import (
	"encoding/json"
	"fmt"
)

// Level is the ordered stream-permission level. Values increase with capability so "effective level" is a plain
// integer max over every atom whose scope contains the stream in question.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelCreateOnly
	LevelContribute
	LevelManage
)

// String renders a Level as its wire representation.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRead:
		return "read"
	case LevelCreateOnly:
		return "create-only"
	case LevelContribute:
		return "contribute"
	case LevelManage:
		return "manage"
	default:
		return "none"
	}
}

// MarshalJSON renders a Level as its wire string ("none", "read", ...).
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses a Level from its wire string form.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseLevel(s)
	if !ok {
		return fmt.Errorf("permission: unrecognized level %q", s)
	}
	*l = parsed
	return nil
}

// ParseLevel parses the wire representation of a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "none":
		return LevelNone, true
	case "read":
		return LevelRead, true
	case "create-only":
		return LevelCreateOnly, true
	case "contribute":
		return LevelContribute, true
	case "manage":
		return LevelManage, true
	default:
		return 0, false
	}
}

// WildcardStream denotes the entire forest ("streamId = \"*\"").
const WildcardStream = "*"

// Feature identifies a feature-permission atom's subject; "selfRevoke" is the only one currently specified.
type Feature string

const FeatureSelfRevoke Feature = "selfRevoke"

// FeatureSetting is the value of a feature permission; "forbidden" is the only one currently specified.
type FeatureSetting string

const SettingForbidden FeatureSetting = "forbidden"

// Kind discriminates the Permission tagged union (design notes §9: "tagged variant Permission = StreamPerm{...} |
// FeaturePerm{...}").
type Kind string

const (
	KindStream  Kind = "stream"
	KindFeature Kind = "feature"
)

// Permission is one atom of an access's permission set: exactly one of the stream-permission or feature-permission
// halves is meaningful, discriminated by Kind.
type Permission struct {
	Kind Kind

	// Stream permission fields.
	StreamID string
	Level    Level

	// Feature permission fields.
	Feature Feature
	Setting FeatureSetting
}

// streamPermissionWire and featurePermissionWire are the two wire shapes a Permission atom serializes to, per spec
// §3: "{streamId, level}" or "{feature, setting}" — never both halves on the same object.
type streamPermissionWire struct {
	StreamID string `json:"streamId"`
	Level    Level  `json:"level"`
}

type featurePermissionWire struct {
	Feature Feature        `json:"feature"`
	Setting FeatureSetting `json:"setting"`
}

// MarshalJSON emits only the half of the tagged union Kind selects, so a stream-permission atom never carries a
// stray "feature"/"setting" pair and vice versa.
func (p Permission) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindFeature:
		return json.Marshal(featurePermissionWire{Feature: p.Feature, Setting: p.Setting})
	default:
		return json.Marshal(streamPermissionWire{StreamID: p.StreamID, Level: p.Level})
	}
}

// UnmarshalJSON recovers the tagged union from the wire shape: an object carrying "feature" is a feature permission,
// otherwise it is treated as a stream permission (matching internal/api.parsePermissions' own discrimination rule).
func (p *Permission) UnmarshalJSON(data []byte) error {
	var probe struct {
		Feature string `json:"feature"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Feature != "" {
		var w featurePermissionWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*p = FeaturePermission(w.Feature, w.Setting)
		return nil
	}
	var w streamPermissionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = StreamPermission(w.StreamID, w.Level)
	return nil
}

// StreamPermission builds a stream-permission atom.
func StreamPermission(streamID string, level Level) Permission {
	return Permission{Kind: KindStream, StreamID: streamID, Level: level}
}

// FeaturePermission builds a feature-permission atom.
func FeaturePermission(feature Feature, setting FeatureSetting) Permission {
	return Permission{Kind: KindFeature, Feature: feature, Setting: setting}
}

// Capability is the kind of operation being requested of the evaluator, §4.3.
type Capability string

const (
	CanRead   Capability = "canRead"
	CanCreate Capability = "canCreate"
	CanUpdate Capability = "canUpdate"
	CanManage Capability = "canManage"
)

// levelAllows is the table from §4.3: which capabilities a given effective level grants. create-only is deliberately
// exclusive of canRead: "create-only hides its events on reads" (§4.3 special rules).
func levelAllows(level Level, cap Capability) bool {
	switch cap {
	case CanRead:
		return level == LevelRead || level == LevelContribute || level == LevelManage
	case CanCreate:
		return level == LevelCreateOnly || level == LevelContribute || level == LevelManage
	case CanUpdate:
		return level == LevelContribute || level == LevelManage
	case CanManage:
		return level == LevelManage
	default:
		return false
	}
}
