package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCorrectableFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.webp", "e.HEIC", "f.gif", "g.txt", "noext"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.jpg"), 0755))

	tests := []struct {
		name     string
		expected bool
	}{
		{"a.jpg", true},
		{"b.JPEG", true},
		{"c.png", true},
		{"d.webp", true},
		{"e.HEIC", true},
		{"f.gif", false},
		{"g.txt", false},
		{"noext", false},
		{"missing.jpg", false},
		{"folder.jpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCorrectableFile(filepath.Join(dir, tt.name)))
		})
	}
}

func TestIsSkipped(t *testing.T) {
	tests := []struct {
		dir      string
		expected bool
	}{
		{"/sdcard/DCIM", false},
		{"/sdcard/.hidden", true},
		{"/sdcard/Android", true},
		{"/sdcard/Android/data/com.app", true},
		{"/sdcard/Android/obb/x", true},
		{"/sdcard/DCIM/.thumbnails", true},
		{"/volume1/photos/@eaDir", true},
		{"/home/me/node_modules", true},
		{".", false},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSkipped(tt.dir))
		})
	}
}

func TestIsTraversable(t *testing.T) {
	root := t.TempDir()
	photos := filepath.Join(root, "photos")
	require.NoError(t, os.Mkdir(photos, 0755))
	file := filepath.Join(root, "file.jpg")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	assert.True(t, IsTraversable(photos, 1, DefaultMaxDepth))
	assert.True(t, IsTraversable(photos, DefaultMaxDepth, DefaultMaxDepth))
	assert.False(t, IsTraversable(photos, DefaultMaxDepth+1, DefaultMaxDepth))
	assert.False(t, IsTraversable(filepath.Join(root, "missing"), 1, DefaultMaxDepth))
	assert.False(t, IsTraversable(file, 1, DefaultMaxDepth))
}
