package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	grantedAt := time.Date(2026, 3, 12, 9, 15, 0, 0, time.UTC)
	userID := "user-4821"

	encoded := Encode(grantedAt, userID)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, grantedAt, cursor.GrantedAt)
	assert.Equal(t, userID, cursor.UserID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cursor")
}

func TestDecode_MalformedPayload(t *testing.T) {
	// Valid base64 but no | separator
	_, err := Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestComputePage_NoMore(t *testing.T) {
	members := []string{"user-1", "user-2", "user-3"}
	page, cursor, hasMore := ComputePage(members, 5, func(u string) (time.Time, string) {
		return time.Now(), u
	})
	assert.Equal(t, 3, len(page))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	members := []string{"user-1", "user-2", "user-3", "user-4"}
	page, cursor, hasMore := ComputePage(members, 3, func(u string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), u
	})
	assert.Equal(t, 3, len(page))
	assert.NotEmpty(t, cursor)
	assert.True(t, hasMore)

	// The cursor should point at the last member on the page.
	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "user-3", c.UserID)
}

func TestComputePage_ExactLimit(t *testing.T) {
	members := []string{"user-1", "user-2", "user-3"}
	page, cursor, hasMore := ComputePage(members, 3, func(u string) (time.Time, string) {
		return time.Now(), u
	})
	assert.Equal(t, 3, len(page))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
