package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		state  SyncState
		cursor PageCursor
		want   string
	}{
		{
			name:   "first page of first sync",
			state:  SyncState{},
			cursor: PageCursor{PageSize: 200},
			want:   `{"$method":"find","params":{"query":{"$limit":200,"$sort":{"_id":1}}}}`,
		},
		{
			name:   "first page of incremental sync",
			state:  SyncState{HighWaterMark: "2024-03-01T00:00:00.000Z"},
			cursor: PageCursor{PageSize: 500},
			want:   `{"$method":"find","params":{"query":{"$limit":500,"$sort":{"_id":1},"updatedAt":{"$gte":"2024-03-01T00:00:00.000Z"}}}}`,
		},
		{
			name:   "subsequent page keeps filter and adds keyset",
			state:  SyncState{HighWaterMark: "2024-03-01T00:00:00.000Z"},
			cursor: PageCursor{LastID: "rec-0499", PageSize: 500},
			want:   `{"$method":"find","params":{"query":{"$limit":500,"$sort":{"_id":1},"_id":{"$gt":"rec-0499"},"updatedAt":{"$gte":"2024-03-01T00:00:00.000Z"}}}}`,
		},
		{
			name:   "subsequent page of full sync",
			state:  SyncState{},
			cursor: PageCursor{LastID: "rec-0199", PageSize: 200},
			want:   `{"$method":"find","params":{"query":{"$limit":200,"$sort":{"_id":1},"_id":{"$gt":"rec-0199"}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := Build(tt.state, tt.cursor)
			raw, err := jsonpool.Marshal(body)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestBuildNeverEmitsOffset(t *testing.T) {
	body := Build(SyncState{HighWaterMark: "2024-01-01T00:00:00.000Z"}, PageCursor{LastID: "x", PageSize: 100})
	for _, clause := range []string{"$skip", "$offset", "skip", "offset"} {
		assert.NotContains(t, body.Params.Query, clause)
	}
}

func TestSyncStateObserve(t *testing.T) {
	s := SyncState{}

	s = s.Observe("2024-03-01T10:00:00.000Z")
	assert.Equal(t, "2024-03-01T10:00:00.000Z", s.HighWaterMark)

	// Strictly greater advances.
	s = s.Observe("2024-03-01T10:00:01.000Z")
	assert.Equal(t, "2024-03-01T10:00:01.000Z", s.HighWaterMark)

	// Equal or older never regresses the mark.
	s = s.Observe("2024-03-01T10:00:01.000Z")
	assert.Equal(t, "2024-03-01T10:00:01.000Z", s.HighWaterMark)
	s = s.Observe("2024-02-28T23:59:59.000Z")
	assert.Equal(t, "2024-03-01T10:00:01.000Z", s.HighWaterMark)

	// Empty observations (records without the field) are ignored.
	s = s.Observe("")
	assert.Equal(t, "2024-03-01T10:00:01.000Z", s.HighWaterMark)
}

func TestPageCursorAdvance(t *testing.T) {
	c := PageCursor{PageSize: 200}
	next := c.Advance("rec-0200")

	assert.Equal(t, "rec-0200", next.LastID)
	assert.Equal(t, 200, next.PageSize)
	// Advance is a value operation; the original cursor is untouched.
	assert.Empty(t, c.LastID)
}
