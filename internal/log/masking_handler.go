package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// identifyingKeys are attribute keys whose values single out one camera or
// its owner. EXIF tag names are matched case-insensitively.
var identifyingKeys = map[string]bool{
	"serialnumber":       true,
	"cameraserialnumber": true,
	"bodyserialnumber":   true,
	"lensserialnumber":   true,
	"imageuniqueid":      true,
	"cameraownername":    true,
	"ownername":          true,
	"artist":             true,
	"copyright":          true,
	"xpauthor":           true,
	"author":             true,
	"gpslatitude":        true,
	"gpslatituderef":     true,
	"gpslongitude":       true,
	"gpslongituderef":    true,
	"gpsaltitude":        true,
}

// identifyingKeywords mark a key as identifying when contained in it,
// e.g. "lens_serial" or "gps_position".
var identifyingKeywords = []string{
	"serial", "gps", "owner", "artist", "author", "copyright", "uniqueid",
}

// identifyingPatterns match values that look like positions regardless of key.
var identifyingPatterns = []*regexp.Regexp{
	// EXIF rational triples as formatted by go-exif, e.g. [35/1 39/1 5868/100]
	regexp.MustCompile(`^\[\d+/\d+ \d+/\d+ \d+/\d+\]$`),

	// Decimal latitude, longitude
	regexp.MustCompile(`^-?\d{1,3}\.\d{4,},\s*-?\d{1,3}\.\d{4,}$`),
}

// MaskValue is the string used to replace identifying values.
const MaskValue = "***REDACTED***"

// MaskingHandler wraps an slog.Handler and replaces attribute values that
// identify a camera or its owner before passing records on.
type MaskingHandler struct {
	handler slog.Handler
}

// NewMaskingHandler creates a new MaskingHandler wrapping the given handler.
// If handler is nil, slog.Default().Handler() is used.
func NewMaskingHandler(handler slog.Handler) *MaskingHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &MaskingHandler{handler: handler}
}

// Enabled reports whether the handler handles records at the given level.
func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle masks the record's attributes and passes it to the underlying handler.
func (h *MaskingHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(h.maskAttr(a))
		return true
	})
	return h.handler.Handle(ctx, masked)
}

// WithAttrs returns a new handler with the given attributes masked and added.
func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.maskAttr(a)
	}
	return &MaskingHandler{handler: h.handler.WithAttrs(masked)}
}

// WithGroup returns a new handler with the given group name.
func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{handler: h.handler.WithGroup(name)}
}

// maskAttr masks a single attribute, recursively handling groups.
func (h *MaskingHandler) maskAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		masked := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			masked[i] = h.maskAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}

	if isIdentifyingKey(a.Key) {
		return slog.String(a.Key, MaskValue)
	}
	if a.Value.Kind() == slog.KindString && isIdentifyingValue(a.Value.String()) {
		return slog.String(a.Key, MaskValue)
	}
	return a
}

func isIdentifyingKey(key string) bool {
	k := strings.ToLower(key)
	if identifyingKeys[k] {
		return true
	}
	for _, kw := range identifyingKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

func isIdentifyingValue(value string) bool {
	for _, p := range identifyingPatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// NewLogger creates a text logger at Warn, or Debug when verbose, whose
// output passes through a MaskingHandler.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewMaskingHandler(slog.NewTextHandler(w, handlerOptions(verbose))))
}

// NewJSONLogger is NewLogger with JSON output.
func NewJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewMaskingHandler(slog.NewJSONHandler(w, handlerOptions(verbose))))
}

func handlerOptions(verbose bool) *slog.HandlerOptions {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return &slog.HandlerOptions{Level: level}
}
