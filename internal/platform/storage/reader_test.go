package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestObjectReaderReadAll(t *testing.T) {
	var gotBucket, gotObject string
	reader := NewObjectReaderFunc(func(_ context.Context, bucket, object string) (io.ReadCloser, error) {
		gotBucket, gotObject = bucket, object
		return io.NopCloser(strings.NewReader("pincode,officename\n110001,Connaught Place\n")), nil
	})

	data, err := reader.ReadAll(context.Background(), " inkfold-reference ", "/pincodes/all.csv")
	require.NoError(t, err)
	require.Equal(t, "inkfold-reference", gotBucket)
	require.Equal(t, "pincodes/all.csv", gotObject)
	require.Contains(t, string(data), "110001")
}

func TestObjectReaderErrors(t *testing.T) {
	ctx := context.Background()

	missing := NewObjectReaderFunc(func(context.Context, string, string) (io.ReadCloser, error) {
		return nil, gcs.ErrObjectNotExist
	})
	_, err := missing.ReadAll(ctx, "b", "o")
	require.ErrorIs(t, err, ErrObjectNotFound)

	large := NewObjectReaderFunc(func(context.Context, string, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Repeat("x", 11))), nil
	}, WithMaxObjectSize(10))
	_, err = large.ReadAll(ctx, "b", "o")
	require.ErrorIs(t, err, ErrObjectTooLarge)

	_, err = large.Open(ctx, "", "o")
	require.Error(t, err, "empty bucket")

	_, err = NewObjectReader(nil)
	require.Error(t, err, "nil client")
}
