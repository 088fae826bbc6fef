// Package imaging analyzes property photographs with the five image heads:
// property type, condition, amenity features, room type and price.
package imaging

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// GridSize is the side of the down-sampled thumbnail.
const GridSize = 8

// ImageLoader resolves a URI to an image descriptor of
// common.ImageDescriptorWidth values in [0,1].
type ImageLoader interface {
	Load(ctx context.Context, uri string) ([]float64, error)
}

// LoaderFunc adapts a function to ImageLoader.
type LoaderFunc func(ctx context.Context, uri string) ([]float64, error)

func (f LoaderFunc) Load(ctx context.Context, uri string) ([]float64, error) { return f(ctx, uri) }

// Describe averages img over a GridSize x GridSize grid and returns the
// row-major RGB means scaled to [0,1].
func Describe(img image.Image) []float64 {
	out := make([]float64, common.ImageDescriptorWidth)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return out
	}
	for gy := 0; gy < GridSize; gy++ {
		y0 := b.Min.Y + gy*h/GridSize
		y1 := b.Min.Y + (gy+1)*h/GridSize
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for gx := 0; gx < GridSize; gx++ {
			x0 := b.Min.X + gx*w/GridSize
			x1 := b.Min.X + (gx+1)*w/GridSize
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sr, sg, sb, n float64
			for y := y0; y < y1 && y < b.Max.Y; y++ {
				for x := x0; x < x1 && x < b.Max.X; x++ {
					r, g, bl, _ := img.At(x, y).RGBA()
					sr += float64(r)
					sg += float64(g)
					sb += float64(bl)
					n++
				}
			}
			if n == 0 {
				continue
			}
			i := (gy*GridSize + gx) * 3
			out[i] = sr / n / 0xffff
			out[i+1] = sg / n / 0xffff
			out[i+2] = sb / n / 0xffff
		}
	}
	return out
}

// Decode reads a JPEG, PNG or GIF picture from r and describes it.
func Decode(r io.Reader) ([]float64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeImageLoadError, "decode image")
	}
	return Describe(img), nil
}

// FileLoader reads pictures from the local filesystem. URIs may be plain
// paths or carry a file:// prefix; relative paths resolve against Root.
type FileLoader struct {
	Root string
}

func (l FileLoader) Load(ctx context.Context, uri string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(uri, "file://")
	if path == "" {
		return nil, errors.New(errors.ErrCodeImageLoadError, "empty image uri")
	}
	if l.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(l.Root, path)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeImageLoadError, "image not found").WithDetail(uri).WithCause(err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeImageLoadError, "open image").WithDetail(uri)
	}
	defer f.Close()
	return Decode(f)
}
