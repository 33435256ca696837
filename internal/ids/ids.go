// Package ids generates lexicographically sortable identifiers.
package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID. Identifiers made within the same millisecond stay
// ordered.
func New() string {
	return ulid.Make().String()
}

// Lower returns a lower-case ULID for identifiers that appear in URLs.
func Lower() string {
	return strings.ToLower(New())
}
