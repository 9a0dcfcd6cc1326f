// Package langflow talks to a Langflow run endpoint and turns its loosely
// shaped JSON replies into display text.
package langflow

import (
	"regexp"
	"strings"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUID reports whether s, ignoring surrounding whitespace, is a canonical
// 36-character hyphenated UUID.
func IsUUID(s string) bool {
	return uuidPattern.MatchString(strings.TrimSpace(s))
}
