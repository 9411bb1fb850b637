package api

import (
	"fmt"

	"github.com/pryv-io/core/internal/apierrors"
	"github.com/pryv-io/core/internal/permission"
)

// badParams builds the standard invalid-parameters-format error a Step returns when a required field is missing or
// the wrong shape.
func badParams(format string, args ...any) error {
	return apierrors.New(apierrors.InvalidParametersFormat, fmt.Sprintf(format, args...))
}

func reqString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", badParams("%q is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", badParams("%q must be a non-empty string", key)
	}
	return s, nil
}

func optString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func optStringPtr(params map[string]any, key string) *string {
	s, ok := optString(params, key)
	if !ok {
		return nil
	}
	return &s
}

func optBool(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func optBoolPtr(params map[string]any, key string) *bool {
	v, ok := params[key]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func optFloat64Ptr(params map[string]any, key string) (**float64, error) {
	v, ok := params[key]
	if !ok {
		return nil, nil
	}
	if v == nil {
		var nilPtr *float64
		return &nilPtr, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, badParams("%q must be a number", key)
	}
	return &f, nil
}

func reqStringSlice(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, badParams("%q is required", key)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, badParams("%q must be an array of strings", key)
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, badParams("%q[%d] must be a string", key, i)
		}
		out[i] = s
	}
	return out, nil
}

func optStringSlice(params map[string]any, key string) []string {
	out, err := reqStringSlice(params, key)
	if err != nil {
		return nil
	}
	return out
}

func optMap(params map[string]any, key string) map[string]any {
	v, ok := params[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

// parsePermissions decodes the `permissions` array of accesses.create's body into permission.Permission atoms.
func parsePermissions(raw any) ([]permission.Permission, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, badParams("%q must be an array", "permissions")
	}
	out := make([]permission.Permission, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, badParams("permissions[%d] must be an object", i)
		}
		if feature, ok := m["feature"].(string); ok && feature != "" {
			setting, _ := m["setting"].(string)
			out = append(out, permission.FeaturePermission(permission.Feature(feature), permission.FeatureSetting(setting)))
			continue
		}
		streamID, ok := m["streamId"].(string)
		if !ok || streamID == "" {
			return nil, badParams("permissions[%d].streamId is required", i)
		}
		levelStr, _ := m["level"].(string)
		level, ok := permission.ParseLevel(levelStr)
		if !ok {
			return nil, badParams("permissions[%d].level %q is not a recognized level", i, levelStr)
		}
		out = append(out, permission.StreamPermission(streamID, level))
	}
	return out, nil
}
