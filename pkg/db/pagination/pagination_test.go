package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id string
	at time.Time
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, 50, Pagination{}.Limit(50, 200))
	assert.Equal(t, 200, Pagination{PageSize: 1000}.Limit(50, 200))
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit(50, 200))
}

func TestCursorRoundTripsAndRejectsGarbage(t *testing.T) {
	at := time.Date(2025, 5, 2, 10, 0, 0, 123, time.FixedZone("x", 3600))
	token, err := EncodeCursor(Cursor{ID: "01HX", CreatedAt: at})
	require.NoError(t, err)

	c, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "01HX", c.ID)
	assert.True(t, at.Equal(c.CreatedAt))

	for _, bad := range []string{"not-a-cursor", "e30", ""} {
		_, err := DecodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestTrimOnlyIssuesTokenWhenMoreRowsExist(t *testing.T) {
	base := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	rows := []*row{{"a", base}, {"b", base.Add(-time.Second)}, {"c", base.Add(-2 * time.Second)}}
	cursorOf := func(r *row) Cursor { return Cursor{ID: r.id, CreatedAt: r.at} }

	page, info, err := Trim(rows, 2, cursorOf)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, info.HasMore)
	c, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	page, info, err = Trim(rows, 3, cursorOf)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
