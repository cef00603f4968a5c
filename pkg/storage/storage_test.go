package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/config"
	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("lake")

	require.NoError(t, store.Put(ctx, "t/_delta_log/00000000000000000000.json", []byte("v0")))
	require.NoError(t, store.Put(ctx, "t/part-0.parquet", []byte("data")))
	require.NoError(t, store.Put(ctx, "other/x", []byte("x")))

	data, err := store.Get(ctx, "t/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	info, err := store.Head(ctx, "t/part-0.parquet")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)

	objs, err := store.List(ctx, "t/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "t/_delta_log/00000000000000000000.json", objs[0].Key)
	assert.Equal(t, "t/part-0.parquet", objs[1].Key)

	require.NoError(t, store.Delete(ctx, "t/part-0.parquet"))
	_, err = store.Get(ctx, "t/part-0.parquet")
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("lake")
	src := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", src))
	src[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStorePutIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("lake")

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.PutIfAbsent(ctx, "log/0001.json", []byte(fmt.Sprintf("writer-%d", i)))
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			if IsExists(err) {
				atomic.AddInt32(&losses, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(15), losses)
	assert.Equal(t, []string{"log/0001.json"}, store.Keys())
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore("lake")
	assert.ErrorIs(t, store.Put(ctx, "k", nil), context.Canceled)
	_, err := store.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseURI(t *testing.T) {
	u, err := ParseURI("s3://lake/minimal_example/abc/")
	require.NoError(t, err)
	assert.Equal(t, "lake", u.Bucket)
	assert.Equal(t, "minimal_example/abc", u.Path)
	assert.Equal(t, "s3://lake/minimal_example/abc/_delta_log", u.Join("/_delta_log/").String())
	assert.Equal(t, "s3://lake", URI{Bucket: "lake"}.String())

	for _, raw := range []string{"http://lake/x", "s3:///x", "::"} {
		_, err := ParseURI(raw)
		assert.Error(t, err, raw)
	}
}

func params() map[string]string {
	return map[string]string{
		config.ParamAllowHTTP:       "true",
		config.ParamEndpointURL:     "http://localhost:9000",
		config.ParamRegion:          "us-east-1",
		config.ParamAWSRegion:       "eu-west-1",
		config.ParamAccessKeyID:     "minio",
		config.ParamSecretAccessKey: "minio123",
		config.ParamBucketName:      "lake",
	}
}

func TestOptionsFromParameters(t *testing.T) {
	opts, err := OptionsFromParameters(params())
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", opts.Region)
	assert.True(t, opts.AllowHTTP)
	assert.Equal(t, "lake", opts.Bucket)

	p := params()
	delete(p, config.ParamAWSRegion)
	opts, err = OptionsFromParameters(p)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", opts.Region)

	p = params()
	delete(p, config.ParamAccessKeyID)
	delete(p, config.ParamBucketName)
	_, err = OptionsFromParameters(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfigMissing)
	assert.Contains(t, err.Error(), "access_key_id, bucket_name")

	p = params()
	p[config.ParamAllowHTTP] = "perhaps"
	_, err = OptionsFromParameters(p)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNewS3StoreRefusesPlainHTTP(t *testing.T) {
	p := params()
	p[config.ParamAllowHTTP] = "false"

	_, err := NewS3Store(context.Background(), p, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plain http")
}

func TestNewS3Store(t *testing.T) {
	store, err := NewS3Store(context.Background(), params(), nil)
	require.NoError(t, err)
	assert.Equal(t, "lake", store.Bucket())

	var _ ObjectStore = store
	var _ ObjectStore = NewMemoryStore("lake")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errClass
	}{
		{"no such key", &types.NoSuchKey{}, errNotFound},
		{"head not found", &types.NotFound{}, errNotFound},
		{"generic not found", &smithy.GenericAPIError{Code: "NotFound"}, errNotFound},
		{"precondition", &smithy.GenericAPIError{Code: "PreconditionFailed"}, errExists},
		{"conditional conflict", fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "ConditionalRequestConflict"}), errExists},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, errOther},
		{"plain", fmt.Errorf("boom"), errOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestTranslate(t *testing.T) {
	s := &S3Store{bucket: "lake", logger: zap.NewNop()}

	err := s.translate(&smithy.GenericAPIError{Code: "PreconditionFailed"}, "log/1.json", "put_if_absent")
	assert.True(t, IsExists(err))
	assert.Contains(t, err.Error(), "s3://lake/log/1.json already exists")

	err = s.translate(&smithy.GenericAPIError{Code: "SlowDown"}, "k", "get")
	assert.False(t, IsExists(err))
	assert.False(t, IsNotFound(err))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}
