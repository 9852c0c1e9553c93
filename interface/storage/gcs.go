package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	gstorage "cloud.google.com/go/storage"
	"github.com/alfredoluis848/ndvi-ingester/common"
)

// GSStore implements Store on a Google Cloud Storage bucket. Object writes
// are atomic on the GCS side: an object only becomes visible once the writer
// is successfully closed.
type GSStore struct {
	bucket *gstorage.BucketHandle
	prefix string
}

// NewGSStore creates a Store on gs://<bucket>/<prefix>
func NewGSStore(ctx context.Context, bucket, prefix string) (*GSStore, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGSStore: %w", err)
	}
	return &GSStore{bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *GSStore) object(tile common.TileRef) *gstorage.ObjectHandle {
	return s.bucket.Object(path.Join(s.prefix, rasterPath(tile)))
}

// Put implements Store
func (s *GSStore) Put(ctx context.Context, tile common.TileRef, r io.Reader) (string, error) {
	obj := s.object(tile)
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", ErrUnavailable{fmt.Errorf("upload %s: %w", obj.ObjectName(), err)}
	}
	if err := w.Close(); err != nil {
		return "", ErrUnavailable{fmt.Errorf("upload %s: %w", obj.ObjectName(), err)}
	}
	return fmt.Sprintf("gs://%s/%s", obj.BucketName(), obj.ObjectName()), nil
}

// Get implements Store
func (s *GSStore) Get(ctx context.Context, tile common.TileRef) (io.ReadCloser, error) {
	r, err := s.object(tile).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, ErrRasterNotFound{Key: tile.Key()}
		}
		return nil, ErrUnavailable{err}
	}
	return r, nil
}

// Exists implements Store
func (s *GSStore) Exists(ctx context.Context, tile common.TileRef) (bool, error) {
	_, err := s.object(tile).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return false, nil
	}
	return false, ErrUnavailable{err}
}

// Delete implements Store
func (s *GSStore) Delete(ctx context.Context, tile common.TileRef) error {
	if err := s.object(tile).Delete(ctx); err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return ErrRasterNotFound{Key: tile.Key()}
		}
		return ErrUnavailable{err}
	}
	return nil
}
