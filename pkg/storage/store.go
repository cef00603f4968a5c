// Package storage provides the object store abstraction tables are kept in.
//
// An ObjectStore is bound to one bucket and addresses objects by
// bucket-relative key. Two implementations are provided: S3Store talks to
// any S3-compatible service (MinIO included) and MemoryStore keeps objects
// in process memory for tests and dry runs.
//
// PutIfAbsent is the primitive the table commit protocol is built on: it
// must fail with ErrObjectExists when another writer created the key first.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

var (
	// ErrObjectNotFound is returned when a key does not exist.
	ErrObjectNotFound = stderrors.New("object not found")
	// ErrObjectExists is returned by PutIfAbsent when the key already exists.
	ErrObjectExists = stderrors.New("object already exists")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is a bucket-scoped key/value object store.
type ObjectStore interface {
	// Bucket returns the bucket the store is bound to.
	Bucket() string
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// PutIfAbsent writes data only if key does not exist yet.
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the objects under prefix sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrObjectNotFound)
}

// IsExists reports whether err means a conditional write lost to an
// existing object.
func IsExists(err error) bool {
	return stderrors.Is(err, ErrObjectExists)
}

func notFound(bucket, key string) error {
	return &errors.Error{
		Type:    errors.ErrorTypeNotFound,
		Message: "object s3://" + bucket + "/" + key + " does not exist",
		Cause:   ErrObjectNotFound,
		Details: map[string]interface{}{"bucket": bucket, "key": key},
	}
}

func exists(bucket, key string) error {
	return &errors.Error{
		Type:    errors.ErrorTypeConflict,
		Message: "object s3://" + bucket + "/" + key + " already exists",
		Cause:   ErrObjectExists,
		Details: map[string]interface{}{"bucket": bucket, "key": key},
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNotFound(err):
		return "not_found"
	case IsExists(err):
		return "exists"
	default:
		return "error"
	}
}
