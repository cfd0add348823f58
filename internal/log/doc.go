// Package log builds slog loggers whose output never carries the identity of
// a camera or its owner.
//
// MaskingHandler wraps any slog.Handler and replaces the values of attributes
// such as EXIF serial numbers, GPS tags, owner and artist names with
// MaskValue, inside groups and WithAttrs as well. Values that look like GPS
// positions are masked whatever their key.
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	logger.Info("loaded image", "BodySerialNumber", "0123456") // BodySerialNumber=***REDACTED***
//	slog.SetDefault(logger)
package log
