package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides base functionality for integration tests
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	// Create temp directory for test files
	tempDir, err := os.MkdirTemp("", "hubble-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	// Clean up temp directory
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	duration := time.Since(s.startTime)
	s.T().Logf("Integration test suite completed in %v", duration)
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// CreateTempFile creates a temporary file with content
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	err := os.WriteFile(path, content, 0644)
	require.NoError(s.T(), err)
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// TestEnvironment provides an isolated environment for a single test:
// a bounded context, a temp directory, and LIFO cleanup hooks.
type TestEnvironment struct {
	t       *testing.T
	ctx     context.Context
	cancel  context.CancelFunc
	tempDir string
	cleanup []func()
}

// NewTestEnvironment creates a new test environment
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	tempDir, err := os.MkdirTemp("", "hubble-test-*")
	require.NoError(t, err)

	env := &TestEnvironment{
		t:       t,
		ctx:     ctx,
		cancel:  cancel,
		tempDir: tempDir,
	}
	t.Cleanup(env.Cleanup)
	return env
}

// Context returns the environment's context
func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// TempDir returns the temporary directory path
func (e *TestEnvironment) TempDir() string {
	return e.tempDir
}

// AddCleanup registers a cleanup function
func (e *TestEnvironment) AddCleanup(fn func()) {
	e.cleanup = append(e.cleanup, fn)
}

// Cleanup runs registered cleanup functions in reverse order, then removes
// the temp directory.
func (e *TestEnvironment) Cleanup() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cancel()
	os.RemoveAll(e.tempDir)
}
