// Package pagination implements the opaque cursors used by dashboard
// member listings. Listings are ordered by grant time with the user ID
// as a tiebreaker, so a cursor pins both.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor marks a position in a member listing.
type Cursor struct {
	GrantedAt time.Time
	UserID    string
}

// Encode returns the opaque form of a (grant time, user ID) position.
func Encode(grantedAt time.Time, userID string) string {
	raw := fmt.Sprintf("%d|%s", grantedAt.UnixNano(), userID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. An empty string means "from the start"
// and decodes to nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{
		GrantedAt: time.Unix(0, nanos).UTC(),
		UserID:    parts[1],
	}, nil
}

// ComputePage trims a result set fetched with limit+1 down to the page.
// extractKey pulls the (grant time, user ID) position from the last
// member on the page to seed the next cursor.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	grantedAt, userID := extractKey(last)
	return items, Encode(grantedAt, userID), true
}
