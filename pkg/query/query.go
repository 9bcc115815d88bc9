// Package query builds the MongoDB-style find queries the extraction engine
// POSTs for each page, and carries the two pieces of progress those queries
// are derived from: the incremental high-water mark and the in-flight page
// cursor.
//
// Pagination is keyset-based on `_id`: every page sorts ascending on `_id`
// and asks for ids strictly greater than the last one seen. The engine never
// emits a skip/offset clause; offsets shift when rows are inserted mid-sync
// and silently drop or duplicate records.
package query

// SyncState is the durable progress of one stream: the greatest `updatedAt`
// value observed across all committed pages. The zero value means no
// incremental filter, i.e. a full first sync.
type SyncState struct {
	HighWaterMark string
}

// Observe returns the state advanced to ts when ts is strictly greater than
// the current mark; otherwise the state is returned unchanged. Timestamps are
// ISO-8601 with a fixed layout, so lexicographic comparison orders them
// correctly and nothing needs parsing.
func (s SyncState) Observe(ts string) SyncState {
	if ts > s.HighWaterMark {
		s.HighWaterMark = ts
	}
	return s
}

// PageCursor positions one page request within a stream. LastID is empty on
// the first page and the `_id` of the final record of the previous page
// afterwards.
type PageCursor struct {
	LastID   string
	PageSize int
}

// Advance returns the cursor moved past lastID. The page size carries over.
func (c PageCursor) Advance(lastID string) PageCursor {
	c.LastID = lastID
	return c
}

// Body is the complete POST payload for one page request.
type Body struct {
	Method string `json:"$method"`
	Params Params `json:"params"`
}

// Params wraps the query document; the wire dialect nests it one level down.
type Params struct {
	Query map[string]interface{} `json:"query"`
}

// Build assembles the find-query body for one page. The query always limits
// and sorts; the incremental filter appears only once a high-water mark is
// known, and the keyset filter only from the second page on.
func Build(state SyncState, cursor PageCursor) Body {
	q := map[string]interface{}{
		"$limit": cursor.PageSize,
		"$sort":  map[string]interface{}{"_id": 1},
	}
	if state.HighWaterMark != "" {
		q["updatedAt"] = map[string]interface{}{"$gte": state.HighWaterMark}
	}
	if cursor.LastID != "" {
		q["_id"] = map[string]interface{}{"$gt": cursor.LastID}
	}
	return Body{
		Method: "find",
		Params: Params{Query: q},
	}
}
