package account

import (
	"path/filepath"
	"strings"
)

// trustedAppPattern is one parsed entry of auth.trustedApps: "appId@originPattern", where either half may contain a
// "*" wildcard (spec §6: "wildcards allowed in origin and path").
type trustedAppPattern struct {
	appID  string
	origin string
}

// parseTrustedApps parses the comma-separated auth.trustedApps config value.
func parseTrustedApps(spec string) []trustedAppPattern {
	var patterns []trustedAppPattern
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		appID, origin, ok := strings.Cut(entry, "@")
		if !ok {
			continue
		}
		patterns = append(patterns, trustedAppPattern{appID: appID, origin: origin})
	}
	return patterns
}

// isTrustedApp reports whether appID/origin match any configured pattern. Empty spec means no restriction, since an
// unconfigured server has no trusted-app allowlist to enforce.
func isTrustedApp(spec, appID, origin string) bool {
	if strings.TrimSpace(spec) == "" {
		return true
	}
	for _, p := range parseTrustedApps(spec) {
		if globMatch(p.appID, appID) && globMatch(p.origin, origin) {
			return true
		}
	}
	return false
}

// globMatch reports whether value matches pattern, where pattern may use "*" wildcards (filepath.Match's glob
// semantics: a "*" never matches a "/", so the slashes of an origin such as "https://x" must appear literally in the
// pattern).
func globMatch(pattern, value string) bool {
	ok, err := filepath.Match(pattern, value)
	return err == nil && ok
}
