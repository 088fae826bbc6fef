package minio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// memObjects is an in-memory ObjectAPI.
type memObjects struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	made    []string
}

func newMemObjects(buckets ...string) *memObjects {
	m := &memObjects{buckets: map[string]map[string][]byte{}}
	for _, b := range buckets {
		m.buckets[b] = map[string][]byte{}
	}
	return m
}

func (m *memObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *memObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = map[string][]byte{}
	m.made = append(m.made, bucket)
	return nil
}

func (m *memObjects) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return minio.UploadInfo{}, minio.ErrorResponse{Code: "NoSuchBucket"}
	}
	b[object] = data
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (m *memObjects) GetObject(_ context.Context, bucket, object string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[bucket][object]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Key: object}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// mockObjects scripts failures.
type mockObjects struct {
	mock.Mock
}

func (m *mockObjects) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjects) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucket, opts).Error(0)
}

func (m *mockObjects) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucket, object, r, size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjects) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, object, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type ClientTestSuite struct {
	suite.Suite
	ctx  context.Context
	objs *memObjects
	c    *Client
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.objs = newMemObjects()
	s.c = NewClientFromAPI(s.objs, "", "", nil)
}

func (s *ClientTestSuite) TestDefaults() {
	s.Equal(DefaultBucket, s.c.Bucket())
	s.Equal("us-east-1", s.c.region)
}

func (s *ClientTestSuite) TestEnsureBucket_CreatesOnce() {
	s.Require().NoError(s.c.EnsureBucket(s.ctx))
	s.Require().NoError(s.c.EnsureBucket(s.ctx))
	s.Equal([]string{DefaultBucket}, s.objs.made)
}

func (s *ClientTestSuite) TestEnsureBucket_Error() {
	m := new(mockObjects)
	m.On("BucketExists", mock.Anything, "models").Return(false, fmt.Errorf("connection refused"))
	c := NewClientFromAPI(m, "models", "", nil)
	err := c.EnsureBucket(s.ctx)
	s.True(errors.IsCode(err, errors.ErrCodeStorageError))
	m.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestHealthCheck() {
	st, err := s.c.HealthCheck(s.ctx)
	s.Require().NoError(err)
	s.False(st.Healthy)
	s.Contains(st.Error, "missing")

	s.Require().NoError(s.c.EnsureBucket(s.ctx))
	st, err = s.c.HealthCheck(s.ctx)
	s.Require().NoError(err)
	s.True(st.Healthy)

	s.Require().NoError(s.c.Close())
	_, err = s.c.HealthCheck(s.ctx)
	s.ErrorIs(err, ErrClientClosed)
}

func (s *ClientTestSuite) TestArtifactStore_Roundtrip() {
	s.Require().NoError(s.c.EnsureBucket(s.ctx))
	store := NewArtifactStore(s.c)

	_, err := store.Load(s.ctx, registry.ArtifactKey("heatmap"))
	s.True(errors.IsNotFound(err))

	s.Require().NoError(store.Save(s.ctx, "heatmap/model.json", []byte(`{"v":1}`)))
	s.Require().NoError(store.Save(s.ctx, "heatmap/model.json", []byte(`{"v":2}`)))
	data, err := store.Load(s.ctx, "heatmap/model.json")
	s.Require().NoError(err)
	s.Equal(`{"v":2}`, string(data))

	_, ok := s.objs.buckets[DefaultBucket]["artifacts/heatmap/model.json"]
	s.True(ok)
}

func (s *ClientTestSuite) TestArtifactStore_Failures() {
	m := new(mockObjects)
	m.On("GetObject", mock.Anything, "models", "artifacts/risk/model.json", mock.Anything).
		Return(nil, fmt.Errorf("timeout"))
	m.On("PutObject", mock.Anything, "models", "artifacts/risk/model.json", mock.Anything, int64(2), mock.Anything).
		Return(minio.UploadInfo{}, fmt.Errorf("denied"))
	store := NewArtifactStore(NewClientFromAPI(m, "models", "", nil))

	_, err := store.Load(s.ctx, "risk/model.json")
	s.True(errors.IsCode(err, errors.ErrCodeStorageError))
	s.False(errors.IsNotFound(err))

	err = store.Save(s.ctx, "risk/model.json", []byte("{}"))
	s.True(errors.IsCode(err, errors.ErrCodeStorageError))
	m.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestArtifactStore_Closed() {
	store := NewArtifactStore(s.c)
	s.Require().NoError(s.c.Close())
	_, err := store.Load(s.ctx, "k")
	s.ErrorIs(err, ErrClientClosed)
	s.ErrorIs(store.Save(s.ctx, "k", nil), ErrClientClosed)
}

func (s *ClientTestSuite) TestSplitURI() {
	b, o, ok := SplitURI("s3://listings/villa-12/front.jpg")
	s.True(ok)
	s.Equal("listings", b)
	s.Equal("villa-12/front.jpg", o)

	for _, bad := range []string{"s3://listings", "s3:///x.jpg", "file:///x.jpg", "s3://b/"} {
		_, _, ok := SplitURI(bad)
		s.False(ok, bad)
	}
}

func (s *ClientTestSuite) TestImageLoader() {
	objs := newMemObjects("listings")
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	s.Require().NoError(png.Encode(&buf, img))
	objs.buckets["listings"]["villa/front.png"] = buf.Bytes()

	fallbackCalls := 0
	fallback := imaging.LoaderFunc(func(context.Context, string) ([]float64, error) {
		fallbackCalls++
		return []float64{}, nil
	})
	l := NewImageLoader(NewClientFromAPI(objs, "models", "", nil), fallback)

	d, err := l.Load(s.ctx, "s3://listings/villa/front.png")
	s.Require().NoError(err)
	s.Equal([]float64{0, 0, 1}, d[:3])

	_, err = l.Load(s.ctx, "s3://listings/villa/missing.png")
	s.True(errors.IsCode(err, errors.ErrCodeImageLoadError))

	_, err = l.Load(s.ctx, "s3://listings")
	s.True(errors.IsCode(err, errors.ErrCodeImageLoadError))

	_, err = l.Load(s.ctx, "photos/a.jpg")
	s.NoError(err)
	s.Equal(1, fallbackCalls)

	l.Fallback = nil
	_, err = l.Load(s.ctx, "photos/a.jpg")
	s.True(errors.IsCode(err, errors.ErrCodeImageLoadError))
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
