package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// habit names and usernames are plain text; strip every tag
var textPolicy = bluemonday.StrictPolicy()

// SanitizeText removes markup from user supplied text. Entities escaped by the policy
// are decoded again since the result is served as JSON, not HTML.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(input)))
}
