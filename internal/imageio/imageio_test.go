package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"

	"github.com/nao1215/prnuscan/internal/model"
)

func gradient(h, w int) *model.Array {
	a := model.NewArray3D(h, w, 3)
	for y := range h {
		for x := range w {
			a.Set(y, x, 0, float64(x*8))
			a.Set(y, x, 1, float64(y*8))
			a.Set(y, x, 2, float64((x+y)*4))
		}
	}
	return a
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	// A TIFF file is itself a TIFF IFD, so its header parses as an EXIF
	// block without an orientation.
	lossless := []struct {
		name string
		exif bool
	}{
		{"out.png", false},
		{"out.tiff", true},
		{"out.bmp", false},
	}
	for _, tt := range lossless {
		name := tt.name
		t.Run(name+" round-trips exactly", func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "sub", name)
			src := gradient(16, 24)
			if err := Save(path, src); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			img, meta, err := Load(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if img.H != 16 || img.W != 24 || img.Channels() != 3 {
				t.Fatalf("unexpected shape %dx%dx%d", img.H, img.W, img.Channels())
			}
			if meta.HasExif != tt.exif || meta.Orientation != 0 {
				t.Errorf("unexpected metadata %+v", meta)
			}
			for c := range 3 {
				for y := range 16 {
					for x := range 24 {
						if float64(img.At(y, x, c)) != src.At(y, x, c) {
							t.Fatalf("pixel (%d,%d,%d): got %d want %v", y, x, c, img.At(y, x, c), src.At(y, x, c))
						}
					}
				}
			}
		})
	}

	t.Run("jpeg at full quality stays close", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.jpg")
		src := gradient(16, 16)
		if err := Save(path, src); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		img, meta, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if meta.Format != "jpeg" {
			t.Errorf("expected jpeg, got %q", meta.Format)
		}
		got := img.ToArray()
		var worst float64
		for c := range 3 {
			for i, v := range got.Planes[c] {
				worst = max(worst, math.Abs(v-src.Planes[c][i]))
			}
		}
		if worst > 24 {
			t.Errorf("max abs error %v", worst)
		}
	})

	t.Run("values are clipped at the save boundary", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "clip.png")
		a := model.NewArray3D(2, 2, 3)
		a.Set(0, 0, 0, -30)
		a.Set(0, 1, 0, 300)
		a.Set(1, 0, 0, 127.6)
		if err := Save(path, a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		img, _, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.At(0, 0, 0) != 0 || img.At(0, 1, 0) != 255 || img.At(1, 0, 0) != 128 {
			t.Errorf("got %d %d %d", img.At(0, 0, 0), img.At(0, 1, 0), img.At(1, 0, 0))
		}
	})

	t.Run("grayscale array is written as a gray image", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "gray.png")
		a := model.NewArray2D(3, 3)
		a.Set(1, 1, 0, 90)
		if err := Save(path, a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		img, _, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for c := range 3 {
			if img.At(1, 1, c) != 90 {
				t.Errorf("channel %d: got %d", c, img.At(1, 1, c))
			}
		}
	})

	t.Run("unknown extension is rejected", func(t *testing.T) {
		t.Parallel()
		err := Save(filepath.Join(t.TempDir(), "out.xyz"), gradient(2, 2))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		t.Parallel()
		if _, _, err := Load(filepath.Join(t.TempDir(), "nope.png")); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("garbage bytes do not decode", func(t *testing.T) {
		t.Parallel()
		if _, _, err := Decode([]byte("not an image")); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestSupportedOrientation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		orientation int
		want        bool
	}{
		{0, true}, {1, true}, {2, false}, {3, true}, {4, false},
		{5, false}, {6, true}, {7, false}, {8, true},
	}
	for _, tt := range tests {
		m := &Metadata{Orientation: tt.orientation}
		if got := m.SupportedOrientation(); got != tt.want {
			t.Errorf("orientation %d: got %v want %v", tt.orientation, got, tt.want)
		}
	}
}

func TestFirstUint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    any
		want int
	}{
		{"short slice", []uint16{6}, 6},
		{"long slice", []uint32{8}, 8},
		{"empty slice", []uint16{}, 0},
		{"scalar", uint16(3), 3},
		{"string", "6", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := firstUint(tt.v); got != tt.want {
				t.Errorf("got %d want %d", got, tt.want)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	t.Parallel()

	l := Layout{Dataset: "/data", Output: "/out"}
	if got := l.Flat("05"); got != filepath.Join("/data", "D05", "flat") {
		t.Errorf("flat: %s", got)
	}
	if got := l.Natural("05"); got != filepath.Join("/data", "D05", "nat") {
		t.Errorf("natural: %s", got)
	}
	if got := l.AnonymizedPath("adp2", "05", "/data/D05/nat/a.jpg"); got != filepath.Join("/out", "adp2", "D05", "a.jpg") {
		t.Errorf("anonymized: %s", got)
	}
	if got := l.Metrics("adp2", "05"); got != filepath.Join("/out", "adp2", "D05", "metrics.json") {
		t.Errorf("metrics: %s", got)
	}
}

func TestListAndDevices(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l := Layout{Dataset: root}
	for _, d := range []string{"D12", "D05", "other"} {
		if err := os.MkdirAll(filepath.Join(root, d, NaturalDir), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	nat := l.Natural("05")
	for _, f := range []string{"b.JPG", "a.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(nat, f), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	devices, err := l.Devices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 2 || devices[0] != "05" || devices[1] != "12" {
		t.Errorf("unexpected devices %v", devices)
	}

	files, err := List(nat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.png" || filepath.Base(files[1]) != "b.JPG" {
		t.Errorf("unexpected files %v", files)
	}
}

func TestAnonymizedDevices(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l := Layout{Output: root}
	if err := os.MkdirAll(l.Anonymized("adp2", "07"), 0o750); err != nil {
		t.Fatal(err)
	}

	devices, err := l.AnonymizedDevices("adp2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0] != "07" {
		t.Errorf("unexpected devices %v", devices)
	}
	if _, err := l.AnonymizedDevices("median_filtering"); err == nil {
		t.Error("expected an error for a missing algorithm directory")
	}
}

func TestOrientation(t *testing.T) {
	t.Parallel()

	// 2x3 sensor image:
	//   0 1 2
	//   3 4 5
	sensor := model.NewArray2D(2, 3)
	for i := range sensor.Planes[0] {
		sensor.Planes[0][i] = float64(i)
	}

	tests := []struct {
		name        string
		orientation int
		h, w        int
		want        []float64
	}{
		{"absent keeps the layout", 0, 2, 3, []float64{0, 1, 2, 3, 4, 5}},
		{"1 keeps the layout", 1, 2, 3, []float64{0, 1, 2, 3, 4, 5}},
		{"3 turns it upside down", 3, 2, 3, []float64{5, 4, 3, 2, 1, 0}},
		{"6 rotates clockwise", 6, 3, 2, []float64{3, 0, 4, 1, 5, 2}},
		{"8 rotates counterclockwise", 8, 3, 2, []float64{2, 5, 1, 4, 0, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			display := ToDisplay(sensor, tt.orientation)
			if display.H != tt.h || display.W != tt.w || display.Rank() != 2 {
				t.Fatalf("unexpected shape %v", display.Shape())
			}
			for i, v := range tt.want {
				if display.Planes[0][i] != v {
					t.Fatalf("display %v, want %v", display.Planes[0], tt.want)
				}
			}

			back := ToSensor(display, tt.orientation)
			if !back.SameShape(sensor) {
				t.Fatalf("unexpected shape %v", back.Shape())
			}
			for i, v := range sensor.Planes[0] {
				if back.Planes[0][i] != v {
					t.Fatalf("round trip %v, want %v", back.Planes[0], sensor.Planes[0])
				}
			}
		})
	}

	t.Run("channels rotate together", func(t *testing.T) {
		t.Parallel()

		a := gradient(4, 6)
		d := ToDisplay(a, 6)
		if d.Channels() != 3 || d.H != 6 || d.W != 4 {
			t.Fatalf("unexpected shape %v", d.Shape())
		}
		for c := range 3 {
			if d.At(1, 3, c) != a.At(0, 1, c) {
				t.Errorf("channel %d: top row did not move to the right column", c)
			}
		}
	})
}

// jpegWithExif encodes a JPEG carrying an APP1 EXIF segment with the given
// orientation and artist.
func jpegWithExif(t *testing.T, a *model.Array, orientation uint16, artist string) []byte {
	t.Helper()

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		t.Fatal(err)
	}
	ib := exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	if err := ib.AddStandardWithName("Orientation", []uint16{orientation}); err != nil {
		t.Fatal(err)
	}
	if err := ib.AddStandardWithName("Artist", artist); err != nil {
		t.Fatal(err)
	}
	block, err := exif.NewIfdByteEncoder().EncodeToExif(ib)
	if err != nil {
		t.Fatal(err)
	}

	img, err := ToImage(a.ToImage())
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	payload := append([]byte("Exif\x00\x00"), block...)
	segment := []byte{0xff, 0xe1, 0, 0}
	binary.BigEndian.PutUint16(segment[2:], uint16(len(payload)+2))

	out := append([]byte{}, raw[:2]...)
	out = append(out, segment...)
	out = append(out, payload...)
	return append(out, raw[2:]...)
}

func TestDecodeExif(t *testing.T) {
	t.Parallel()

	t.Run("orientation and identifying tags are read", func(t *testing.T) {
		t.Parallel()

		img, meta, err := Decode(jpegWithExif(t, gradient(8, 16), 6, "Jane Doe"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !meta.HasExif || meta.Orientation != 6 {
			t.Errorf("unexpected metadata %+v", meta)
		}
		if meta.Identifying["Artist"] == "" {
			t.Errorf("expected the artist tag, got %v", meta.Identifying)
		}
		if img.H != 8 || img.W != 16 {
			t.Errorf("expected pixels in stored order, got %dx%d", img.H, img.W)
		}
	})

	t.Run("mirrored orientation is rejected", func(t *testing.T) {
		t.Parallel()

		_, meta, err := Decode(jpegWithExif(t, gradient(8, 8), 5, "x"))
		if !errors.Is(err, ErrUnsupportedOrientation) {
			t.Errorf("expected ErrUnsupportedOrientation, got %v", err)
		}
		if meta == nil || meta.Orientation != 5 {
			t.Errorf("expected orientation 5 in metadata, got %+v", meta)
		}
	})
}
