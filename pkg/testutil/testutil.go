// Package testutil provides fixtures shared by deltaflow tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/deltaflow/pkg/config"
)

// TestLogger creates a logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext returns a context cancelled after 30 seconds or when the test
// ends, whichever comes first.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WriteFile writes content to name inside a fresh temp dir and returns the
// path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// FixedClock returns a clock that always reports ts.
func FixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// SetConnectionEnv sets every connection variable for the duration of the
// test, pointing at a local plain-http endpoint and bucket.
func SetConnectionEnv(t *testing.T, bucket string) {
	t.Helper()
	t.Setenv(config.EnvAllowHTTP, "true")
	t.Setenv(config.EnvEndpointURL, "http://localhost:9000")
	t.Setenv(config.EnvRegion, "us-east-1")
	t.Setenv(config.EnvAccessKeyID, "minio")
	t.Setenv(config.EnvSecretAccessKey, "minio123")
	t.Setenv(config.EnvBucketName, bucket)
}
