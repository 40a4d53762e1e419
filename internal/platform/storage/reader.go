// Package storage reads reference data objects from Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// DefaultMaxObjectSize bounds ReadAll to keep a misconfigured object from exhausting memory.
const DefaultMaxObjectSize = 32 << 20

var (
	// ErrObjectNotFound is returned when the bucket or object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrObjectTooLarge is returned by ReadAll when the object exceeds the size limit.
	ErrObjectTooLarge = errors.New("storage: object too large")
)

// OpenFunc opens an object for reading. It exists so tests can substitute the transport.
type OpenFunc func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// ObjectReader streams objects out of Cloud Storage.
type ObjectReader struct {
	open    OpenFunc
	maxSize int64
}

// ReaderOption customises the ObjectReader.
type ReaderOption func(*ObjectReader)

// WithMaxObjectSize overrides the ReadAll size limit.
func WithMaxObjectSize(n int64) ReaderOption {
	return func(r *ObjectReader) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// NewObjectReader constructs a reader backed by the provided Cloud Storage client.
func NewObjectReader(client *gcs.Client, opts ...ReaderOption) (*ObjectReader, error) {
	if client == nil {
		return nil, errors.New("storage reader: client is required")
	}
	return NewObjectReaderFunc(func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	}, opts...), nil
}

// NewObjectReaderFunc builds a reader from an arbitrary open function.
func NewObjectReaderFunc(open OpenFunc, opts ...ReaderOption) *ObjectReader {
	r := &ObjectReader{open: open, maxSize: DefaultMaxObjectSize}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Open returns a stream for bucket/object. Callers must close it.
func (r *ObjectReader) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	if r == nil || r.open == nil {
		return nil, errors.New("storage reader: not initialised")
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if bucket == "" || object == "" {
		return nil, errors.New("storage reader: bucket and object must be provided")
	}

	rc, err := r.open(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, object)
		}
		return nil, fmt.Errorf("storage reader: open gs://%s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// ReadAll reads the whole object, failing with ErrObjectTooLarge past the size limit.
func (r *ObjectReader) ReadAll(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := r.Open(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage reader: read gs://%s/%s: %w", bucket, object, err)
	}
	if int64(len(data)) > r.maxSize {
		return nil, ErrObjectTooLarge
	}
	return data, nil
}
