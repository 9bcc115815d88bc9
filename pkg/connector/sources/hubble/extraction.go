package hubble

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/clients"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/metrics"
	"github.com/ajitpratap0/hubble/pkg/observability"
	"github.com/ajitpratap0/hubble/pkg/pool"
	"github.com/ajitpratap0/hubble/pkg/query"
	"github.com/ajitpratap0/hubble/pkg/sanitize"
	"github.com/ajitpratap0/hubble/pkg/schema"
)

// pageOutcome tags the result of the Deciding step. Control flow through the
// loop stays explicit; sentinel errors never steer it.
type pageOutcome int

const (
	pageContinue pageOutcome = iota
	pageDone
)

// pageEnvelope is the response wrapper. Only data is consumed; the meta
// totals are advisory and ignored.
type pageEnvelope struct {
	Data []map[string]interface{} `json:"data"`
}

// extractionLoop drives one stream through its sequential page cycle:
// request, sanitize, decode, discover on the first page, emit, decide.
// No two pages of the same stream are ever in flight at once, because page
// N+1's query depends on page N's last record. Loops for different streams
// share no mutable state and may run concurrently.
//
// The cursor and sync state move through the steps as values; the loop's own
// state field holds only what the last fully processed page committed. A page
// that fails mid-emit therefore never shows up in the exported checkpoint.
type extractionLoop struct {
	stream config.StreamSpec
	client *clients.APIClient
	retry  clients.RetryPolicy
	logger *zap.Logger

	pageSize int
	delay    time.Duration

	// emit hands one record downstream; it blocks until the record is
	// accepted or ctx is done. commit, if set, is called with the sync
	// state after each fully processed page.
	emit   func(ctx context.Context, record *pool.Record) error
	commit func(state query.SyncState)

	state    query.SyncState
	document schema.Document
	pages    int
	emitted  int64
}

// Run drives the stream to completion. It returns nil when pagination is
// exhausted and an error when the stream fails; either way, every fully
// processed page has already been committed through the commit callback, so
// the next invocation resumes instead of restarting.
func (l *extractionLoop) Run(ctx context.Context) error {
	cursor := query.PageCursor{PageSize: l.pageSize}

	l.logger.Info("starting stream extraction",
		zap.String("stream", l.stream.Name),
		zap.Int("page_size", l.pageSize),
		zap.String("high_water_mark", l.state.HighWaterMark))

	for {
		raw, err := l.requestPage(ctx, query.Build(l.state, cursor))
		if err != nil {
			return err
		}

		records, err := l.decodePage(raw)
		if err != nil {
			return err
		}

		if l.pages == 0 {
			l.discoverSchema(records)
		}

		next, err := l.emitPage(ctx, l.state, records)
		if err != nil {
			return err
		}

		// The page is fully processed; commit its progress.
		l.state = next
		l.pages++
		if l.commit != nil {
			l.commit(l.state)
		}
		metrics.PagesFetched.WithLabelValues(l.stream.Name).Inc()
		metrics.ObserveHighWaterMark(l.stream.Name, l.state.HighWaterMark)

		outcome, nextCursor, err := l.decide(cursor, records)
		if err != nil {
			return err
		}
		if outcome == pageDone {
			l.logger.Info("stream extraction complete",
				zap.String("stream", l.stream.Name),
				zap.Int("pages", l.pages),
				zap.Int64("records", l.emitted),
				zap.String("high_water_mark", l.state.HighWaterMark))
			return nil
		}
		cursor = nextCursor

		if err := l.pause(ctx); err != nil {
			return err
		}
	}
}

// requestPage is the Requesting step. The identical body is reused across
// attempts, so the cursor advances at most once per successfully processed
// page no matter how many tries the page took.
func (l *extractionLoop) requestPage(ctx context.Context, body query.Body) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "page_request")
	span.SetAttribute("stream", l.stream.Name)
	span.SetAttribute("page", l.pages+1)
	raw, err := l.requestPageAttempts(ctx, span, body)
	span.End(err)
	return raw, err
}

func (l *extractionLoop) requestPageAttempts(ctx context.Context, span *observability.Span, body query.Body) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		timer := metrics.NewTimer("page_request")
		resp, err := l.client.PostJSON(ctx, l.stream.EndpointURL, body)
		metrics.PageRequestDuration.WithLabelValues(l.stream.Name).Observe(timer.Stop().Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			decision := l.retry.DecideTransport(attempt)
			if !decision.Retry {
				return nil, errors.Wrap(err, errors.ErrorTypeTransient, "page request failed").
					WithDetail("stream", l.stream.Name).
					WithDetail("attempts", attempt)
			}
			if err := l.backoff(ctx, decision, 0, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.Success() {
			span.SetAttribute("attempts", attempt)
			return resp.Body, nil
		}

		decision := l.retry.Decide(resp.StatusCode, resp.Header, attempt)
		if !decision.Retry {
			return nil, statusError(l.stream.Name, resp, attempt)
		}
		if err := l.backoff(ctx, decision, resp.StatusCode, attempt); err != nil {
			return nil, err
		}
	}
}

// backoff waits out a retry decision, honoring cancellation.
func (l *extractionLoop) backoff(ctx context.Context, decision clients.RetryDecision, status, attempt int) error {
	metrics.Retries.WithLabelValues(l.stream.Name, string(decision.Reason)).Inc()
	l.logger.Warn("retrying page request",
		zap.String("stream", l.stream.Name),
		zap.Int("status", status),
		zap.Int("attempt", attempt),
		zap.String("reason", string(decision.Reason)),
		zap.Duration("wait", decision.Wait))

	timer := time.NewTimer(decision.Wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodePage is the Sanitizing and Decoding steps. A payload that fails to
// decode after sanitization is structurally broken; retrying would fetch the
// same bytes again, so the failure is fatal.
func (l *extractionLoop) decodePage(raw []byte) ([]map[string]interface{}, error) {
	clean, removed := sanitize.Clean(raw)
	if removed > 0 {
		metrics.NullBytesRemoved.WithLabelValues(l.stream.Name).Add(float64(removed))
		l.logger.Debug("sanitized response payload",
			zap.String("stream", l.stream.Name),
			zap.Int("removed", removed))
	}

	var envelope pageEnvelope
	if err := jsonpool.UnmarshalWithNumbers(clean, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformed, "response failed to decode after sanitization").
			WithDetail("stream", l.stream.Name)
	}
	return envelope.Data, nil
}

// discoverSchema is the SchemaDiscovery step, entered once on the first
// successful page. An empty first page still yields a schema: the static
// fallback document, never an empty one.
func (l *extractionLoop) discoverSchema(records []map[string]interface{}) {
	if len(records) == 0 {
		l.document = schema.FallbackDocument()
		l.logger.Info("stream is empty, using fallback schema",
			zap.String("stream", l.stream.Name))
		return
	}
	l.document = schema.InferDocument(records[0])
	l.logger.Info("inferred stream schema",
		zap.String("stream", l.stream.Name),
		zap.Int("fields", len(l.document)))
}

// emitPage is the Emitting step: every record goes downstream in order, and
// the high-water mark advances in memory as records carrying a greater
// updatedAt pass through. The advanced state is returned for the caller to
// commit once the page is fully processed.
func (l *extractionLoop) emitPage(ctx context.Context, state query.SyncState, records []map[string]interface{}) (query.SyncState, error) {
	for i, doc := range records {
		record := l.toRecord(doc, l.emitted+int64(i))
		if err := l.emit(ctx, record); err != nil {
			record.Release()
			return state, err
		}
		state = state.Observe(recordUpdatedAt(doc))
	}
	l.emitted += int64(len(records))
	metrics.RecordsExtracted.WithLabelValues(l.stream.Name).Add(float64(len(records)))
	return state, nil
}

// decide is the Deciding step. A page with fewer records than requested
// means pagination is exhausted; a full page advances the cursor past its
// last record.
func (l *extractionLoop) decide(cursor query.PageCursor, records []map[string]interface{}) (pageOutcome, query.PageCursor, error) {
	if len(records) < cursor.PageSize {
		return pageDone, cursor, nil
	}
	lastID := recordID(records[len(records)-1])
	if lastID == "" {
		return pageDone, cursor, errors.New(errors.ErrorTypeData, "last record of a full page has no _id, cannot advance cursor").
			WithDetail("stream", l.stream.Name)
	}
	return pageContinue, cursor.Advance(lastID), nil
}

// pause applies the inter-page delay. This is also the loop's cooperative
// stop point: cancellation lands here, between pages, never mid-page.
func (l *extractionLoop) pause(ctx context.Context) error {
	if l.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toRecord wraps one decoded document as a pooled record. The document map
// is used directly as the record data; _id is mirrored into the record ID
// when present.
func (l *extractionLoop) toRecord(doc map[string]interface{}, offset int64) *pool.Record {
	record := pool.NewRecord("hubble", doc)
	if id := recordID(doc); id != "" {
		record.ID = id
	}
	record.SetStreamID(l.stream.Name)
	record.SetEndpoint(l.stream.EndpointURL)
	record.SetOffset(offset)
	return record
}

// statusError converts a fatal non-2xx response into a typed error carrying
// the status and a body snippet for diagnostics. A retryable status that ran
// out of attempts keeps its transient classification.
func statusError(stream string, resp *clients.APIResponse, attempt int) error {
	errType := errors.ErrorTypeAPI
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case clients.Retryable(resp.StatusCode):
		errType = errors.ErrorTypeTransient
	}

	snippet := resp.Body
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	return errors.New(errType, "page request rejected").
		WithDetail("stream", stream).
		WithDetail("status", resp.StatusCode).
		WithDetail("attempts", attempt).
		WithDetail("body", string(snippet))
}

// recordID extracts the document identifier. Identifiers are strings on the
// wire; a numeric id surviving as json.Number is tolerated.
func recordID(doc map[string]interface{}) string {
	switch id := doc["_id"].(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// recordUpdatedAt extracts the incremental-sync timestamp, or "" when the
// record carries none.
func recordUpdatedAt(doc map[string]interface{}) string {
	ts, _ := doc["updatedAt"].(string)
	return ts
}
