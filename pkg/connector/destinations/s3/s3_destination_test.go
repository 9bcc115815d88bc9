package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubble/pkg/compression"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// fakeUploader captures uploaded objects in memory.
type fakeUploader struct {
	mu      sync.Mutex
	keys    []string
	bodies  [][]byte
	failErr error
}

func (f *fakeUploader) Upload(_ context.Context, input *awss3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *input.Key)
	f.bodies = append(f.bodies, body)
	return &manager.UploadOutput{}, nil
}

func newTestDestination(t *testing.T, objectRows int) (*S3Destination, *fakeUploader) {
	t.Helper()

	cfg := config.NewBaseConfig("s3-test", "destination")
	dest := &S3Destination{
		BaseConnector: base.NewBaseConnector("s3", core.ConnectorTypeDestination, "1.0.0"),
		bucket:        "extracts",
		prefix:        "hubble",
		objectRows:    objectRows,
		algorithm:     compression.None,
		compressor: compression.NewCompressorPool(&compression.Config{
			Algorithm: compression.None,
			Level:     compression.Default,
		}),
	}
	require.NoError(t, dest.BaseConnector.Initialize(context.Background(), cfg))

	uploader := &fakeUploader{}
	dest.uploader = uploader
	return dest, uploader
}

func record(id, stream string) *pool.Record {
	r := pool.NewRecord("hubble", map[string]interface{}{"_id": id})
	r.ID = id
	r.SetStreamID(stream)
	return r
}

func TestFlushUploadsPendingRecords(t *testing.T) {
	dest, uploader := newTestDestination(t, 100)

	records := make(chan *pool.Record, 3)
	errs := make(chan error)
	for _, id := range []string{"1", "2", "3"} {
		records <- record(id, "users")
	}
	close(records)
	close(errs)

	require.NoError(t, dest.Write(context.Background(), &core.RecordStream{Records: records, Errors: errs}))

	require.Len(t, uploader.bodies, 1)
	lines := strings.Split(strings.TrimSpace(string(uploader.bodies[0])), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"_id":"1"`)

	m := dest.Metrics()
	assert.Equal(t, int64(3), m["records_written"])
	assert.Equal(t, int64(1), m["objects_created"])
}

func TestObjectRowsBoundsObjectSize(t *testing.T) {
	dest, uploader := newTestDestination(t, 2)

	records := make(chan *pool.Record, 5)
	errs := make(chan error)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		records <- record(id, "users")
	}
	close(records)
	close(errs)

	require.NoError(t, dest.Write(context.Background(), &core.RecordStream{Records: records, Errors: errs}))

	// Two full objects plus the final partial flush.
	assert.Len(t, uploader.keys, 3)
}

func TestObjectKeyLayout(t *testing.T) {
	dest, _ := newTestDestination(t, 100)

	now := time.Date(2024, 3, 9, 12, 0, 0, 42, time.UTC)
	r := record("1", "orders")
	defer r.Release()

	key := dest.objectKey(r, now)
	assert.True(t, strings.HasPrefix(key, "hubble/stream=orders/dt=2024-03-09/part-"), key)
	assert.True(t, strings.HasSuffix(key, ".jsonl"), key)
}

func TestObjectKeyWithoutStreamFallsBack(t *testing.T) {
	dest, _ := newTestDestination(t, 100)

	r := pool.NewRecord("hubble", map[string]interface{}{"_id": "1"})
	defer r.Release()

	key := dest.objectKey(r, time.Now().UTC())
	assert.Contains(t, key, "stream=default/")
}

func TestUploadFailureSurfaces(t *testing.T) {
	dest, uploader := newTestDestination(t, 100)
	uploader.failErr = assert.AnError

	records := make(chan *pool.Record, 1)
	errs := make(chan error)
	records <- record("1", "users")
	close(records)
	close(errs)

	err := dest.Write(context.Background(), &core.RecordStream{Records: records, Errors: errs})
	require.Error(t, err)
}

func TestCompressedBodiesRoundTrip(t *testing.T) {
	dest, uploader := newTestDestination(t, 100)
	dest.algorithm = compression.Gzip
	dest.compressor = compression.NewCompressorPool(&compression.Config{
		Algorithm: compression.Gzip,
		Level:     compression.Default,
	})

	records := make(chan *pool.Record, 1)
	errs := make(chan error)
	records <- record("1", "users")
	close(records)
	close(errs)

	require.NoError(t, dest.Write(context.Background(), &core.RecordStream{Records: records, Errors: errs}))
	require.Len(t, uploader.bodies, 1)

	decompressed, err := dest.compressor.Decompress(uploader.bodies[0])
	require.NoError(t, err)
	assert.True(t, bytes.Contains(decompressed, []byte(`"_id":"1"`)))
}
