// Package pagination implements the opaque cursor tokens used by keyset-paged
// list queries. Tokens are base64-encoded JSON so callers can hand them back
// verbatim without inspecting their contents.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPageSize defines the fallback number of items returned when the
// caller omits a page size.
const DefaultPageSize = 50

// ErrInvalidPageToken marks tokens that cannot be decoded back into a cursor.
var ErrInvalidPageToken = errors.New("pagination: invalid pageToken")

// Cursor carries the sort-key values of the last row of the previous page.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// IsZero reports whether the cursor carries no position.
func (c Cursor) IsZero() bool {
	return len(c.StartAfter) == 0 && len(c.StartAt) == 0
}

// EncodeToken serialises cursor into a page token. A zero cursor encodes to
// the empty string, which list endpoints treat as "no next page".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. Blank input yields a
// zero cursor; anything else that fails to decode reports ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	var cursor Cursor
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(decoded, &cursor)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
