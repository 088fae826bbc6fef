package minio

import (
	"context"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// ImageScheme marks photo URIs served from the object store,
// e.g. s3://listings/villa-12/front.jpg.
const ImageScheme = "s3://"

// ImageLoader decodes photos stored as objects. URIs with ImageScheme name
// their own bucket; other URIs go to Fallback.
type ImageLoader struct {
	client   *Client
	Fallback imaging.ImageLoader
}

// NewImageLoader returns a loader reading s3:// URIs through c.
func NewImageLoader(c *Client, fallback imaging.ImageLoader) *ImageLoader {
	return &ImageLoader{client: c, Fallback: fallback}
}

// SplitURI returns the bucket and object of an s3:// URI.
func SplitURI(uri string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(uri, ImageScheme)
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

func (l *ImageLoader) Load(ctx context.Context, uri string) ([]float64, error) {
	if !strings.HasPrefix(uri, ImageScheme) {
		if l.Fallback == nil {
			return nil, errors.New(errors.ErrCodeImageLoadError, "unsupported image uri").WithDetail(uri)
		}
		return l.Fallback.Load(ctx, uri)
	}
	bucket, object, ok := SplitURI(uri)
	if !ok {
		return nil, errors.New(errors.ErrCodeImageLoadError, "malformed object uri").WithDetail(uri)
	}
	if err := l.client.checkOpen(); err != nil {
		return nil, err
	}
	obj, err := l.client.api.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New(errors.ErrCodeImageLoadError, "image not found").WithDetail(uri).WithCause(err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeImageLoadError, "failed to get image").WithDetail(uri)
	}
	defer obj.Close()
	return imaging.Decode(obj)
}

var _ imaging.ImageLoader = (*ImageLoader)(nil)
