// Package fileutil provides file, format and path helpers shared by the speech
// service binaries.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	dot                    = "."
	invalidCharReplacement = "_"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Audio formats accepted by the speech endpoint.
const (
	FormatMP3  = "mp3"
	FormatOpus = "opus"
	FormatAAC  = "aac"
	FormatFLAC = "flac"
	FormatWAV  = "wav"
	FormatPCM  = "pcm"
)

// ContentTypeOctetStream is served for keys with an unknown extension.
const ContentTypeOctetStream = "application/octet-stream"

var audioContentTypes = map[string]string{
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/ogg",
	FormatAAC:  "audio/aac",
	FormatFLAC: "audio/flac",
	FormatWAV:  "audio/wav",
	FormatPCM:  "audio/pcm",
}

// IsAudioFormat reports whether format is a response format the speech endpoint
// can produce.
func IsAudioFormat(format string) bool {
	_, ok := audioContentTypes[format]

	return ok
}

// ContentTypeForFormat returns the MIME type for an audio format, falling back to
// application/octet-stream.
func ContentTypeForFormat(format string) string {
	contentType, ok := audioContentTypes[strings.ToLower(format)]
	if !ok {
		return ContentTypeOctetStream
	}

	return contentType
}

// ContentTypeForKey returns the MIME type implied by a key's file extension.
func ContentTypeForKey(key string) string {
	return ContentTypeForFormat(GetFileExtension(key))
}

// EnsureDir creates path and its parents if they do not exist.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// GetFileExtension returns the lower-cased file extension without the leading dot.
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), dot))
}

// SanitizeFilename replaces characters that are invalid in most filesystems or
// that would escape a storage directory.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		"..", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
