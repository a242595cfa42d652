package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/fileutil"
)

func TestContentTypeForKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want string
	}{
		{key: "alloy-1a2b3c4d.mp3", want: "audio/mpeg"},
		{key: "nova-00000000.MP3", want: "audio/mpeg"},
		{key: "clip.wav", want: "audio/wav"},
		{key: "clip.opus", want: "audio/ogg"},
		{key: "notes.txt", want: fileutil.ContentTypeOctetStream},
		{key: "no-extension", want: fileutil.ContentTypeOctetStream},
	}

	for _, testCase := range tests {
		t.Run(testCase.key, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, fileutil.ContentTypeForKey(testCase.key))
		})
	}
}

func TestIsAudioFormat(t *testing.T) {
	t.Parallel()

	assert.True(t, fileutil.IsAudioFormat("mp3"))
	assert.True(t, fileutil.IsAudioFormat("flac"))
	assert.False(t, fileutil.IsAudioFormat("m4a"))
	assert.False(t, fileutil.IsAudioFormat(""))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alloy-1234.mp3", fileutil.SanitizeFilename("alloy-1234.mp3"))
	assert.Equal(t, "__etc_passwd", fileutil.SanitizeFilename("../etc/passwd"))
	assert.Equal(t, "a_b_c", fileutil.SanitizeFilename(`a\b:c`))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", fileutil.FormatFileSize(512))
	assert.Equal(t, "1.5 KB", fileutil.FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", fileutil.FormatFileSize(2*1024*1024))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45.2s", fileutil.FormatDuration(45.2))
	assert.Equal(t, "5m 30.5s", fileutil.FormatDuration(330.5))
	assert.Equal(t, "1h 15m", fileutil.FormatDuration(4500))
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "nested", "outputs")

	require.NoError(t, fileutil.EnsureDir(target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
