package hubble

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/hubble/pkg/clients"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/metrics"
	"github.com/ajitpratap0/hubble/pkg/pool"
	"github.com/ajitpratap0/hubble/pkg/query"
)

// pageServer decodes the query document of every incoming page request and
// delegates the response to a per-page handler.
type pageServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	queries []map[string]interface{}
}

func newPageServer(t *testing.T, respond func(page int, w http.ResponseWriter)) *pageServer {
	t.Helper()
	ps := &pageServer{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Method string `json:"$method"`
			Params struct {
				Query map[string]interface{} `json:"query"`
			} `json:"params"`
		}
		decoder := jsonpool.GetDecoder(r.Body)
		defer jsonpool.PutDecoder(decoder)
		require.NoError(t, decoder.Decode(&body))
		assert.Equal(t, "find", body.Method)

		ps.mu.Lock()
		ps.queries = append(ps.queries, body.Params.Query)
		page := len(ps.queries)
		ps.mu.Unlock()

		respond(page, w)
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pageServer) requests() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.queries)
}

func (ps *pageServer) query(i int) map[string]interface{} {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.queries[i]
}

// recordSink collects emitted records in order.
type recordSink struct {
	records []*pool.Record
}

func (rs *recordSink) emit(_ context.Context, record *pool.Record) error {
	rs.records = append(rs.records, record)
	return nil
}

// pageJSON builds a response of records with string ids from..to.
func pageJSON(from, to int) []byte {
	records := make([]map[string]interface{}, 0, to-from+1)
	for i := from; i <= to; i++ {
		records = append(records, map[string]interface{}{
			"_id":       strconv.Itoa(i),
			"updatedAt": "2024-01-01T00:00:00.000Z",
			"name":      "record " + strconv.Itoa(i),
		})
	}
	payload, _ := jsonpool.Marshal(map[string]interface{}{
		"data": records,
		"meta": map[string]interface{}{"total": to, "count": len(records)},
	})
	return payload
}

func testLoop(t *testing.T, url string, pageSize int) (*extractionLoop, *recordSink) {
	t.Helper()

	clientCfg := clients.DefaultConfig()
	clientCfg.EnableHTTP2 = false
	clientCfg.CircuitBreakerEnabled = false
	client := clients.NewAPIClient(clientCfg, nil, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })

	sink := &recordSink{}
	loop := &extractionLoop{
		stream:   config.StreamSpec{Name: "vacancies", EndpointURL: url},
		client:   client,
		retry:    clients.NewRetryPolicy(5),
		logger:   zaptest.NewLogger(t),
		pageSize: pageSize,
		emit:     sink.emit,
	}
	return loop, sink
}

func TestExtractionLoopPaginatesToExhaustion(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		switch page {
		case 1:
			w.Write(pageJSON(1, 500))
		case 2:
			w.Write(pageJSON(501, 700))
		default:
			t.Errorf("unexpected page request %d", page)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	loop, sink := testLoop(t, server.srv.URL, 500)
	require.NoError(t, loop.Run(context.Background()))

	assert.Len(t, sink.records, 700)
	assert.Equal(t, 2, server.requests())

	// First page: limit and sort only, no cursor, no incremental filter.
	first := server.query(0)
	assert.Equal(t, json.Number("500"), first["$limit"])
	assert.Equal(t, map[string]interface{}{"_id": json.Number("1")}, first["$sort"])
	assert.NotContains(t, first, "_id")
	assert.NotContains(t, first, "updatedAt")

	// Second page: cursor strictly past the last record of page one.
	second := server.query(1)
	assert.Equal(t, map[string]interface{}{"$gt": "500"}, second["_id"])

	assert.Equal(t, "1", sink.records[0].ID)
	assert.Equal(t, "700", sink.records[699].ID)
	assert.Equal(t, "vacancies", sink.records[0].GetStreamID())
}

func TestExtractionLoopSanitizesBeforeDecode(t *testing.T) {
	// A raw 0x00 inside a JSON string is invalid JSON; the payload decodes
	// only because the sanitizer strips it first.
	corrupted := append([]byte(`{"data": [{"_id": "a1", "updatedAt": "2024-01-02T03:04:05.000Z", "notes": "line`), 0x00)
	corrupted = append(corrupted, []byte(`break"}]}`)...)

	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		w.Write(corrupted)
	})

	before := testutil.ToFloat64(metrics.NullBytesRemoved.WithLabelValues("sanitize_e2e"))

	loop, sink := testLoop(t, server.srv.URL, 10)
	loop.stream.Name = "sanitize_e2e"
	require.NoError(t, loop.Run(context.Background()))

	require.Len(t, sink.records, 1)
	notes, _ := sink.records[0].GetData("notes")
	assert.Equal(t, "linebreak", notes)

	after := testutil.ToFloat64(metrics.NullBytesRemoved.WithLabelValues("sanitize_e2e"))
	assert.Equal(t, float64(1), after-before)
	assert.Equal(t, 1, server.requests())
}

func TestExtractionLoopRetriesRateLimit(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		if page == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(pageJSON(1, 2))
	})

	before := testutil.ToFloat64(metrics.Retries.WithLabelValues("rate_limited", "rate_limit"))

	loop, sink := testLoop(t, server.srv.URL, 10)
	loop.stream.Name = "rate_limited"
	require.NoError(t, loop.Run(context.Background()))

	assert.Len(t, sink.records, 2)
	assert.Equal(t, 2, server.requests())

	// The retry reuses the identical query body.
	assert.Equal(t, server.query(0), server.query(1))

	after := testutil.ToFloat64(metrics.Retries.WithLabelValues("rate_limited", "rate_limit"))
	assert.Equal(t, float64(1), after-before)
}

func TestExtractionLoopRateLimitBudgetExhausted(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	loop, _ := testLoop(t, server.srv.URL, 10)
	loop.retry = clients.NewRetryPolicy(2)

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	assert.Equal(t, 2, server.requests())
}

func TestExtractionLoopFatalOnClientError(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad query"}`))
	})

	loop, _ := testLoop(t, server.srv.URL, 10)

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
	assert.Equal(t, 1, server.requests())
}

func TestExtractionLoopMalformedResponseIsFatal(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		w.Write([]byte(`{"data": [{"_id": `))
	})

	loop, _ := testLoop(t, server.srv.URL, 10)

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformed))
	assert.Equal(t, 1, server.requests())
}

func TestExtractionLoopAdvancesHighWaterMark(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		payload, err := jsonpool.Marshal(map[string]interface{}{
			"data": []map[string]interface{}{
				{"_id": "a1", "updatedAt": "2024-03-02T00:00:00.000Z"},
				{"_id": "a2", "updatedAt": "2024-03-05T00:00:00.000Z"},
				{"_id": "a3", "updatedAt": "2024-03-01T00:00:00.000Z"},
				{"_id": "a4"},
			},
		})
		require.NoError(t, err)
		w.Write(payload)
	})

	var commits []query.SyncState
	loop, _ := testLoop(t, server.srv.URL, 10)
	loop.state = query.SyncState{HighWaterMark: "2024-01-01T00:00:00.000Z"}
	loop.commit = func(state query.SyncState) { commits = append(commits, state) }

	require.NoError(t, loop.Run(context.Background()))

	// Out-of-order timestamps and records without updatedAt never move the
	// mark backwards.
	require.Len(t, commits, 1)
	assert.Equal(t, "2024-03-05T00:00:00.000Z", commits[0].HighWaterMark)

	// The seeded mark appears as the incremental filter of the first query.
	first := server.query(0)
	assert.Equal(t, map[string]interface{}{"$gte": "2024-01-01T00:00:00.000Z"}, first["updatedAt"])
}

func TestExtractionLoopStopsBetweenPages(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		w.Write(pageJSON(page*2-1, page*2))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commits := 0
	loop, sink := testLoop(t, server.srv.URL, 2)
	loop.commit = func(query.SyncState) {
		commits++
		cancel()
	}

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// One page committed, the next never requested.
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, server.requests())
	assert.Len(t, sink.records, 2)
}

func TestExtractionLoopFirstPageSchemaDiscovery(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		if page == 1 {
			w.Write([]byte(`{"data": [{"_id": "a1", "active": true, "count": 3}, {"_id": "a2"}]}`))
			return
		}
		w.Write([]byte(`{"data": []}`))
	})

	loop, _ := testLoop(t, server.srv.URL, 2)
	require.NoError(t, loop.Run(context.Background()))

	// Inferred once, from the first record of the first page.
	require.NotNil(t, loop.document)
	assert.Equal(t, "boolean", loop.document["active"].Type.Concrete())
	assert.Equal(t, "integer", loop.document["count"].Type.Concrete())
}

func TestExtractionLoopEmptyStreamUsesFallbackSchema(t *testing.T) {
	server := newPageServer(t, func(page int, w http.ResponseWriter) {
		w.Write([]byte(`{"data": []}`))
	})

	loop, sink := testLoop(t, server.srv.URL, 10)
	require.NoError(t, loop.Run(context.Background()))

	assert.Empty(t, sink.records)
	require.NotNil(t, loop.document)
	assert.Contains(t, loop.document, "_id")
	assert.Contains(t, loop.document, "updatedAt")
}

func TestDecideRequiresLastRecordID(t *testing.T) {
	loop := &extractionLoop{
		stream: config.StreamSpec{Name: "vacancies"},
		logger: zaptest.NewLogger(t),
	}
	records := []map[string]interface{}{{"_id": "1"}, {"name": "no id"}}

	// Full page without a usable cursor id cannot continue.
	_, _, err := loop.decide(query.PageCursor{PageSize: 2}, records)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	// Short page is simply done, id or not.
	outcome, cursor, err := loop.decide(query.PageCursor{PageSize: 3}, records)
	require.NoError(t, err)
	assert.Equal(t, pageDone, outcome)
	assert.Equal(t, "", cursor.LastID)
}

func TestRecordIDCoercion(t *testing.T) {
	assert.Equal(t, "a1", recordID(map[string]interface{}{"_id": "a1"}))
	assert.Equal(t, "42", recordID(map[string]interface{}{"_id": json.Number("42")}))
	assert.Equal(t, "", recordID(map[string]interface{}{"_id": 3.5}))
	assert.Equal(t, "", recordID(map[string]interface{}{}))
}
