package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMissingListsAllKeys(t *testing.T) {
	err := ConfigMissing("MINIO_URL", "MINIO_LOGIN")

	assert.Equal(t, "ConfigMissing: missing required configuration: MINIO_URL, MINIO_LOGIN", err.Error())
	keys, ok := err.Detail("keys")
	require.True(t, ok)
	assert.Equal(t, []string{"MINIO_URL", "MINIO_LOGIN"}, keys)
	assert.True(t, IsType(err, ErrorTypeConfig))
}

func TestCodedErrorsMatchTheirSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel *Error
	}{
		{"config", ConfigMissing("ALLOW_HTTP"), ErrConfigMissing},
		{"exists", TableAlreadyExists("s3://b/p/1"), ErrTableAlreadyExists},
		{"not found", TableNotFound("s3://b/p/1"), ErrTableNotFound},
		{"source", SourceLoadFailed("minimal.csv", fmt.Errorf("boom")), ErrSourceLoadFailed},
		{"concurrent", ConcurrentModification("s3://b/p/1", 1, 2), ErrConcurrentModification},
		{"ambiguous", AmbiguousMatch("a"), ErrAmbiguousMatch},
		{"merge", MergeExecutionFailedf("bad column %s", "x"), ErrMergeExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("step failed: %w", tt.err)
			assert.True(t, Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.sentinel.Code, CodeOf(wrapped))
		})
	}

	assert.False(t, Is(TableNotFound("x"), ErrTableAlreadyExists))
}

func TestConcurrentModificationDetails(t *testing.T) {
	err := ConcurrentModification("s3://b/p/1", 3, 5)

	assert.Contains(t, err.Error(), "from version 3 to 5")
	assert.Equal(t, "actual_version=5 expected_version=3 location=s3://b/p/1", err.DetailString())
}

func TestWrapKeepsCodeReachable(t *testing.T) {
	inner := AmbiguousMatch("k1")
	outer := Wrap(inner, ErrorTypeQuery, "planning merge")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.Equal(t, CodeAmbiguousMatch, CodeOf(outer))
	assert.Nil(t, Wrap(nil, ErrorTypeQuery, "nothing"))
}
