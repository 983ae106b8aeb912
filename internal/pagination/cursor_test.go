package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Encoded(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 500, time.UTC)

	c, err := Decode(Encode(at, "ra_abc"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, at.Equal(c.At))
	assert.Equal(t, "ra_abc", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{
		"!!!",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte("abc|ra_1")),
		base64.RawURLEncoding.EncodeToString([]byte("123|")),
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestCursor_After(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Cursor{At: at, ID: "ra_5"}

	assert.True(t, c.After(at.Add(-time.Second), "ra_9"))
	assert.False(t, c.After(at.Add(time.Second), "ra_1"))
	assert.True(t, c.After(at, "ra_4"))
	assert.False(t, c.After(at, "ra_5"))
	assert.False(t, c.After(at, "ra_6"))

	var none *Cursor
	assert.True(t, none.After(at, "anything"))
}

func TestPage(t *testing.T) {
	type item struct {
		at time.Time
		id string
	}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []item{{base.Add(3 * time.Minute), "c"}, {base.Add(2 * time.Minute), "b"}, {base.Add(time.Minute), "a"}}
	key := func(i item) (time.Time, string) { return i.at, i.id }

	page, next := Page(items, 2, key)
	assert.Len(t, page, 2)
	require.NotEmpty(t, next)

	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	page, next = Page(items[2:], 2, key)
	assert.Len(t, page, 1)
	assert.Empty(t, next)
}
