package imageio

import (
	exif "github.com/dsoprea/go-exif/v3"
)

// Metadata is the EXIF information prnuscan cares about.
type Metadata struct {
	// Format is the decoder name ("jpeg", "png", ...).
	Format string

	// HasExif is false when the file carries no EXIF block.
	HasExif bool

	// Orientation is the EXIF orientation tag, 0 when absent.
	Orientation int

	// Make and Model identify the camera model, not the individual device.
	Make  string
	Model string

	// Identifying holds tags that can single out one device or its owner:
	// serial numbers, GPS position and authorship. They are logged only
	// through the masking handler.
	Identifying map[string]string
}

// SupportedOrientation reports whether the orientation is absent or one of
// the pure rotations 1, 3, 6 and 8.
func (m *Metadata) SupportedOrientation() bool {
	switch m.Orientation {
	case 0, 1, 3, 6, 8:
		return true
	default:
		return false
	}
}

// identifyingTags are the EXIF tags collected into Metadata.Identifying.
var identifyingTags = map[string]bool{
	"SerialNumber":       true,
	"CameraSerialNumber": true,
	"BodySerialNumber":   true,
	"LensSerialNumber":   true,
	"ImageUniqueID":      true,
	"CameraOwnerName":    true,
	"OwnerName":          true,
	"Artist":             true,
	"Copyright":          true,
	"XPAuthor":           true,
	"GPSLatitude":        true,
	"GPSLatitudeRef":     true,
	"GPSLongitude":       true,
	"GPSLongitudeRef":    true,
	"GPSAltitude":        true,
}

// ReadMetadata extracts EXIF metadata from raw file bytes. Files without EXIF
// or with a block that does not parse yield empty metadata.
func ReadMetadata(data []byte) *Metadata {
	meta := &Metadata{Identifying: make(map[string]string)}

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil || rawExif == nil {
		return meta
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return meta
	}
	meta.HasExif = true

	for _, entry := range entries {
		switch {
		case entry.TagName == "Orientation" && meta.Orientation == 0:
			meta.Orientation = firstUint(entry.Value)
		case entry.TagName == "Make":
			meta.Make = entry.Formatted
		case entry.TagName == "Model":
			meta.Model = entry.Formatted
		case identifyingTags[entry.TagName]:
			meta.Identifying[entry.TagName] = entry.Formatted
		}
	}
	return meta
}

func firstUint(v any) int {
	switch t := v.(type) {
	case []uint16:
		if len(t) > 0 {
			return int(t[0])
		}
	case []uint32:
		if len(t) > 0 {
			return int(t[0])
		}
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	}
	return 0
}
