// Package hubble implements the incremental REST source connector. It speaks
// a MongoDB-style query dialect over HTTP: each page of each stream is
// fetched with a POST find-query, paginated by keyset cursor on _id and
// filtered incrementally on updatedAt.
//
// The connector composes the platform pieces: pkg/query builds page bodies,
// pkg/sanitize scrubs payloads, pkg/schema infers per-stream documents,
// pkg/clients executes requests and decides retries. One extraction loop per
// configured stream runs under a concurrency bound; records from all streams
// funnel into a single RecordStream.
package hubble

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/clients"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/metrics"
	"github.com/ajitpratap0/hubble/pkg/pool"
	"github.com/ajitpratap0/hubble/pkg/query"
	"github.com/ajitpratap0/hubble/pkg/sanitize"
	"github.com/ajitpratap0/hubble/pkg/schema"
	stringpool "github.com/ajitpratap0/hubble/pkg/strings"
)

// HubbleSource is the incremental REST source connector.
type HubbleSource struct {
	*base.BaseConnector

	config *config.BaseConfig
	client *clients.APIClient
	retry  clients.RetryPolicy

	pageSize       int
	interPageDelay time.Duration
	maxConcurrency int
	streams        []config.StreamSpec

	// marks holds the committed high-water mark per stream; documents the
	// inferred schema per stream. Both are written by concurrently running
	// extraction loops.
	mu        sync.Mutex
	marks     map[string]string
	documents map[string]schema.Document
	schema    *core.Schema

	processedRecords int64
}

// NewHubbleSource creates the source connector. Configuration is applied in
// Initialize, not here.
func NewHubbleSource(name string, _ *config.BaseConfig) (core.Source, error) {
	return &HubbleSource{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeSource, "1.0.0"),
		marks:         make(map[string]string),
		documents:     make(map[string]schema.Document),
	}, nil
}

// Initialize validates the extraction configuration and builds the HTTP
// client the page loops share. Stream state starts from start_date when
// configured; saved checkpoints imported via SetState override it.
func (s *HubbleSource) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	token, err := s.validateAndExtractConfig(cfg)
	if err != nil {
		return err
	}

	s.config = cfg
	s.pageSize = cfg.Extraction.PageSize
	s.interPageDelay = cfg.Extraction.InterPageDelay
	s.maxConcurrency = cfg.Performance.MaxConcurrency
	s.streams = cfg.Extraction.Streams
	s.retry = clients.NewRetryPolicy(cfg.Extraction.MaxRetries)

	clientCfg := clients.DefaultConfig()
	clientCfg.RequestTimeout = cfg.Extraction.RequestTimeout
	clientCfg.InsecureSkipVerify = cfg.Security.TLSSkipVerify
	clientCfg.RateLimit = float64(cfg.Reliability.RateLimitPerSec)
	clientCfg.AdaptiveRateLimit = cfg.Reliability.AdaptiveRateLimit
	s.client = clients.NewAPIClient(clientCfg, clients.NewStaticTokenProvider(token), s.GetLogger())

	if start := cfg.Extraction.StartDate; start != "" {
		s.mu.Lock()
		for _, stream := range s.streams {
			s.marks[stream.Name] = start
		}
		s.mu.Unlock()
	}

	s.UpdateHealth(true, map[string]interface{}{
		"streams":   len(s.streams),
		"page_size": s.pageSize,
	})

	s.GetLogger().Info("hubble source initialized",
		zap.Int("streams", len(s.streams)),
		zap.Int("page_size", s.pageSize),
		zap.Duration("inter_page_delay", s.interPageDelay),
		zap.Int("max_retries", cfg.Extraction.MaxRetries))

	return nil
}

// validateAndExtractConfig checks the sections the extraction engine needs
// before any request is made. The numeric ranges are re-checked here so a
// source constructed with a hand-built config fails fast, not mid-sync.
func (s *HubbleSource) validateAndExtractConfig(cfg *config.BaseConfig) (string, error) {
	token := cfg.Security.Credentials["api_token"]
	if token == "" {
		return "", errors.New(errors.ErrorTypeConfig, "api_token credential is required")
	}
	if len(cfg.Extraction.Streams) == 0 {
		return "", errors.New(errors.ErrorTypeConfig, "at least one stream is required")
	}
	if err := cfg.Extraction.Validate(); err != nil {
		return "", err
	}
	return token, nil
}

// Check verifies connectivity with a single-record probe against the first
// configured stream. A parseable 2xx response passes; nothing is retried.
func (s *HubbleSource) Check(ctx context.Context) error {
	if len(s.streams) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no streams configured")
	}

	probe := s.streams[0]
	if _, err := s.probeStream(ctx, probe); err != nil {
		s.UpdateHealth(false, map[string]interface{}{"probe": probe.Name})
		return err
	}
	s.UpdateHealth(true, map[string]interface{}{"probe": probe.Name})
	return nil
}

// Discover probes every configured stream for one record and infers its
// schema document. The destination-facing schema is derived from the first
// configured stream and cached; DiscoverStreams exposes the full per-stream
// catalog.
func (s *HubbleSource) Discover(ctx context.Context) (*core.Schema, error) {
	s.mu.Lock()
	cached := s.schema
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	docs, err := s.DiscoverStreams(ctx)
	if err != nil {
		return nil, err
	}

	first := s.streams[0].Name
	discovered := documentToSchema(first, docs[first])

	s.mu.Lock()
	s.schema = discovered
	s.mu.Unlock()
	return discovered, nil
}

// DiscoverStreams returns the inferred schema document of every configured
// stream, probing the ones not yet observed. Empty streams get the static
// fallback document.
func (s *HubbleSource) DiscoverStreams(ctx context.Context) (map[string]schema.Document, error) {
	if len(s.streams) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no streams configured")
	}

	docs := make(map[string]schema.Document, len(s.streams))
	for _, stream := range s.streams {
		if doc := s.document(stream.Name); doc != nil {
			docs[stream.Name] = doc
			continue
		}

		records, err := s.probeStream(ctx, stream)
		if err != nil {
			return nil, err
		}

		var doc schema.Document
		if len(records) == 0 {
			doc = schema.FallbackDocument()
		} else {
			doc = schema.InferDocument(records[0])
		}
		s.setDocument(stream.Name, doc)
		docs[stream.Name] = doc
	}
	return docs, nil
}

// probeStream issues a single-record find against one stream and returns the
// decoded page.
func (s *HubbleSource) probeStream(ctx context.Context, stream config.StreamSpec) ([]map[string]interface{}, error) {
	body := query.Build(query.SyncState{}, query.PageCursor{PageSize: 1})
	resp, err := s.client.PostJSON(ctx, stream.EndpointURL, body)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, errors.New(errors.ErrorTypeAPI, "probe request rejected").
			WithDetail("stream", stream.Name).
			WithDetail("status", resp.StatusCode)
	}

	clean, _ := sanitize.Clean(resp.Body)
	var envelope pageEnvelope
	if err := jsonpool.UnmarshalWithNumbers(clean, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformed, "probe response failed to decode").
			WithDetail("stream", stream.Name)
	}
	return envelope.Data, nil
}

// Read launches one extraction loop per configured stream, bounded by
// performance.max_concurrency, and funnels all records into a single stream.
// A failed stream reports on the error channel; the remaining streams keep
// extracting.
func (s *HubbleSource) Read(ctx context.Context) (*core.RecordStream, error) {
	records := make(chan *pool.Record, s.config.Performance.BufferSize)
	errs := make(chan error, len(s.streams))

	go func() {
		defer close(records)
		defer close(errs)
		s.readStreams(ctx, records, errs)
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

// ReadBatch reads records grouped into batches of up to batchSize.
func (s *HubbleSource) ReadBatch(ctx context.Context, batchSize int) (*core.BatchStream, error) {
	if batchSize <= 0 {
		batchSize = s.config.Performance.BatchSize
	}

	batches := make(chan []*pool.Record, 10)
	errs := make(chan error, len(s.streams))

	go func() {
		defer close(batches)
		defer close(errs)

		records := make(chan *pool.Record, s.config.Performance.BufferSize)
		go func() {
			defer close(records)
			s.readStreams(ctx, records, errs)
		}()

		batch := pool.GetBatchSlice(batchSize)
		for record := range records {
			batch = append(batch, record)
			if len(batch) < batchSize {
				continue
			}
			select {
			case batches <- batch:
				batch = pool.GetBatchSlice(batchSize)
			case <-ctx.Done():
				pool.PutBatchSlice(batch)
				return
			}
		}

		if len(batch) == 0 {
			pool.PutBatchSlice(batch)
			return
		}
		select {
		case batches <- batch:
		case <-ctx.Done():
			pool.PutBatchSlice(batch)
		}
	}()

	return &core.BatchStream{Batches: batches, Errors: errs}, nil
}

// readStreams runs the per-stream loops and blocks until all finish. Stream
// failures are reported individually; cancellation is not a failure.
func (s *HubbleSource) readStreams(ctx context.Context, records chan<- *pool.Record, errs chan<- error) {
	semaphore := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, stream := range s.streams {
		wg.Add(1)
		go func(spec config.StreamSpec) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			metrics.ActiveStreams.Inc()
			defer metrics.ActiveStreams.Dec()

			if err := s.extractStream(ctx, spec, records); err != nil {
				if ctx.Err() != nil {
					s.GetLogger().Info("stream extraction stopped",
						zap.String("stream", spec.Name))
					return
				}
				s.GetLogger().Error("stream extraction failed",
					zap.String("stream", spec.Name),
					zap.Error(err))
				errs <- err
			}
		}(stream)
	}

	wg.Wait()
}

// extractStream runs one extraction loop. The loop emits into the shared
// record channel and commits each page's high-water mark back into the
// source, so GetState always reflects the last fully processed page.
func (s *HubbleSource) extractStream(ctx context.Context, spec config.StreamSpec, records chan<- *pool.Record) error {
	loop := &extractionLoop{
		stream:   spec,
		client:   s.client,
		retry:    s.retry,
		logger:   s.GetLogger(),
		pageSize: s.pageSize,
		delay:    s.interPageDelay,
		state:    query.SyncState{HighWaterMark: s.mark(spec.Name)},
		emit: func(ctx context.Context, record *pool.Record) error {
			select {
			case records <- record:
				atomic.AddInt64(&s.processedRecords, 1)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		commit: func(state query.SyncState) {
			s.setMark(spec.Name, state.HighWaterMark)
			s.ReportProgress(atomic.LoadInt64(&s.processedRecords), 0)
		},
	}

	err := loop.Run(ctx)

	if loop.document != nil {
		s.setDocument(spec.Name, loop.document)
	}
	return err
}

// GetState exports the per-stream checkpoint: stream name mapped to a
// document of exactly {"updatedAt": mark}. Streams that have observed
// nothing are omitted.
func (s *HubbleSource) GetState() core.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := make(core.State, len(s.marks))
	for stream, mark := range s.marks {
		if mark == "" {
			continue
		}
		state[stream] = map[string]interface{}{"updatedAt": mark}
	}
	return state
}

// SetState imports saved checkpoints, overriding the start_date seed. Marks
// for streams not in the current configuration are kept; a later config
// change picks them back up.
func (s *HubbleSource) SetState(state core.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for stream, raw := range state {
		doc, ok := raw.(map[string]interface{})
		if !ok {
			return errors.New(errors.ErrorTypeState, "stream state must be a document").
				WithDetail("stream", stream)
		}
		if mark, ok := doc["updatedAt"].(string); ok && mark != "" {
			s.marks[stream] = mark
		}
	}
	return nil
}

// ExtractPosition implements core.Position as a count of records emitted
// across all streams. Per-stream resume state travels through GetState;
// positions only order progress snapshots.
type ExtractPosition struct {
	Processed int64 `json:"processed"`
}

// String implements core.Position.
func (p *ExtractPosition) String() string {
	return stringpool.Sprintf("processed:%d", p.Processed)
}

// Compare implements core.Position.
func (p *ExtractPosition) Compare(other core.Position) int {
	o, ok := other.(*ExtractPosition)
	if !ok {
		return 0
	}
	switch {
	case p.Processed < o.Processed:
		return -1
	case p.Processed > o.Processed:
		return 1
	}
	return 0
}

// GetPosition returns the current extraction position.
func (s *HubbleSource) GetPosition() core.Position {
	return &ExtractPosition{Processed: atomic.LoadInt64(&s.processedRecords)}
}

// SetPosition restores a previously exported position.
func (s *HubbleSource) SetPosition(position core.Position) error {
	if pos, ok := position.(*ExtractPosition); ok {
		atomic.StoreInt64(&s.processedRecords, pos.Processed)
	}
	return nil
}

// SupportsIncremental reports that syncs resume from the saved high-water
// mark.
func (s *HubbleSource) SupportsIncremental() bool {
	return true
}

// SupportsBatch reports that ReadBatch is implemented.
func (s *HubbleSource) SupportsBatch() bool {
	return true
}

// Metrics extends the base connector metrics with extraction counters.
func (s *HubbleSource) Metrics() map[string]interface{} {
	m := s.BaseConnector.Metrics()
	m["streams"] = len(s.streams)
	m["page_size"] = s.pageSize
	m["processed_records"] = atomic.LoadInt64(&s.processedRecords)
	if s.client != nil {
		stats := s.client.GetStats()
		m["http_requests"] = stats.TotalRequests
		m["http_failures"] = stats.FailedRequests
	}
	return m
}

// Close releases the HTTP client and the base connector.
func (s *HubbleSource) Close(ctx context.Context) error {
	if s.client != nil {
		_ = s.client.Close()
	}
	return s.BaseConnector.Close(ctx)
}

func (s *HubbleSource) mark(stream string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[stream]
}

func (s *HubbleSource) setMark(stream, mark string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[stream] = mark
}

func (s *HubbleSource) document(stream string) schema.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documents[stream]
}

func (s *HubbleSource) setDocument(stream string, doc schema.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[stream] = doc
}

// documentToSchema converts an inferred document into the destination-facing
// schema. Descriptors map onto the coarser destination field types; every
// field stays nullable, matching the inference convention.
func documentToSchema(name string, doc schema.Document) *core.Schema {
	fields := make([]core.Field, 0, len(doc))
	for field, desc := range doc {
		fields = append(fields, core.Field{
			Name:     field,
			Type:     descriptorFieldType(desc),
			Nullable: true,
			Format:   desc.Format,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	return &core.Schema{
		Name:   name,
		Fields: fields,
	}
}

func descriptorFieldType(desc schema.Descriptor) core.FieldType {
	if desc.Format == "date-time" {
		return core.FieldTypeTimestamp
	}
	switch desc.Type.Concrete() {
	case "boolean":
		return core.FieldTypeBool
	case "integer":
		return core.FieldTypeInteger
	case "number":
		return core.FieldTypeFloat
	case "array":
		return core.FieldTypeArray
	case "object":
		return core.FieldTypeObject
	case "null":
		return core.FieldTypeJSON
	default:
		return core.FieldTypeString
	}
}
