package minio

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// ArtifactPrefix is prepended to every artifact key.
const ArtifactPrefix = "artifacts"

// ArtifactStore keeps model artifacts as objects under ArtifactPrefix.
type ArtifactStore struct {
	client *Client
}

// NewArtifactStore returns a registry.ArtifactStore backed by c.
func NewArtifactStore(c *Client) *ArtifactStore {
	return &ArtifactStore{client: c}
}

func objectName(key string) string {
	return path.Join(ArtifactPrefix, key)
}

// Load reads key. A missing object yields a ModelArtifactNotFound error.
func (s *ArtifactStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := s.client.checkOpen(); err != nil {
		return nil, err
	}
	name := objectName(key)
	obj, err := s.client.api.GetObject(ctx, s.client.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New(errors.CodeModelArtifactNotFound, "artifact not found").WithDetail(name)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to get artifact").WithDetail(name)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to read artifact").WithDetail(name)
	}
	return data, nil
}

// Save writes data to key, replacing any previous object.
func (s *ArtifactStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.checkOpen(); err != nil {
		return err
	}
	name := objectName(key)
	info, err := s.client.api.PutObject(ctx, s.client.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to put artifact").WithDetail(name)
	}
	s.client.logger.Debug("artifact saved",
		logging.String("object", name),
		logging.Int64("size", info.Size))
	return nil
}

var _ registry.ArtifactStore = (*ArtifactStore)(nil)
