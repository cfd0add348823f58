package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/nao1215/prnuscan/internal/model"
)

// JPEGQuality is the quality anonymized JPEGs are written with.
const JPEGQuality = 100

var (
	// ErrUnsupportedFormat is returned when a file extension has no encoder.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrUnsupportedOrientation is returned for EXIF orientations other than
	// 1, 3, 6 and 8.
	ErrUnsupportedOrientation = errors.New("unsupported EXIF orientation")

	// ErrEmptyImage is returned when a decoded image has no pixels.
	ErrEmptyImage = errors.New("empty image")
)

// Load reads and decodes an image file into RGB planes and checks its
// EXIF orientation. Pixels are kept in stored (sensor) order; the orientation
// is only used to reject images that are mirrored or transposed.
func Load(path string) (*model.Image, *Metadata, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(data)
}

// Decode decodes image bytes. See Load.
func Decode(data []byte) (*model.Image, *Metadata, error) {
	meta := ReadMetadata(data)
	if !meta.SupportedOrientation() {
		return nil, meta, fmt.Errorf("%w: %d", ErrUnsupportedOrientation, meta.Orientation)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, meta, fmt.Errorf("failed to decode image: %w", err)
	}
	meta.Format = format
	img := FromImage(src)
	if img.Len() == 0 {
		return nil, meta, ErrEmptyImage
	}
	return img, meta, nil
}

// FromImage converts any image.Image to 8-bit RGB planes.
func FromImage(src image.Image) *model.Image {
	b := src.Bounds()
	out := model.NewImage(b.Dy(), b.Dx(), 3)
	r, g, bl := out.Pix[0], out.Pix[1], out.Pix[2]

	switch s := src.(type) {
	case *image.RGBA:
		for y := range out.H {
			row := s.Pix[y*s.Stride : y*s.Stride+out.W*4]
			for x := range out.W {
				i := y*out.W + x
				r[i], g[i], bl[i] = row[x*4], row[x*4+1], row[x*4+2]
			}
		}
	case *image.Gray:
		for y := range out.H {
			row := s.Pix[y*s.Stride : y*s.Stride+out.W]
			for x, v := range row {
				i := y*out.W + x
				r[i], g[i], bl[i] = v, v, v
			}
		}
	default:
		for y := range out.H {
			for x := range out.W {
				c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				i := y*out.W + x
				r[i], g[i], bl[i] = c.R, c.G, c.B
			}
		}
	}
	return out
}

// ToImage converts 8-bit planes to an image.Image: one channel becomes
// *image.Gray, three become *image.RGBA.
func ToImage(img *model.Image) (image.Image, error) {
	rect := image.Rect(0, 0, img.W, img.H)
	switch img.Channels() {
	case 1:
		out := image.NewGray(rect)
		for y := range img.H {
			copy(out.Pix[y*out.Stride:], img.Pix[0][y*img.W:(y+1)*img.W])
		}
		return out, nil
	case 3:
		out := image.NewRGBA(rect)
		for y := range img.H {
			row := out.Pix[y*out.Stride:]
			for x := range img.W {
				i := y*img.W + x
				row[x*4] = img.Pix[0][i]
				row[x*4+1] = img.Pix[1][i]
				row[x*4+2] = img.Pix[2][i]
				row[x*4+3] = 0xff
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot encode %d channels", img.Channels())
	}
}

// Save rounds and clips a working array to 8 bits and writes it with the
// encoder chosen by the file extension: .png, .jpg/.jpeg, .tif/.tiff or .bmp.
// Parent directories are created as needed.
func Save(path string, a *model.Array) error {
	img, err := ToImage(a.ToImage())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(&buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	case ".tif", ".tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case ".bmp":
		err = bmp.Encode(&buf, img)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
