package event

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// htmlPolicy is shared across calls: bluemonday's policies are safe for concurrent use once built, and building one
// per call would be wasteful on a hot write path.
var htmlPolicy = bluemonday.UGCPolicy()

// IsHTMLType reports whether a MIME-like event type names HTML-bearing content (e.g. "text/html" or a vendor type
// ending in "+html"), the shape of type the content-normalization step (§4.2 common-fn) must sanitize.
func IsHTMLType(eventType string) bool {
	return eventType == "text/html" || strings.HasSuffix(eventType, "+html")
}

// SanitizeHTML strips unsafe markup from content bound for an HTML-bearing event type, matching the UGC policy the
// rest of the pack's HTML-sanitizing flows use.
func SanitizeHTML(content string) string {
	return htmlPolicy.Sanitize(content)
}
