package acp

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestDefaultFsHandlerReadWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644))
	h := &DefaultFsHandler{}

	tests := []struct {
		line  *int
		limit *int
		name  string
		want  string
	}{
		{name: "whole file", want: "one\ntwo\nthree\nfour"},
		{name: "from line 2", line: intPtr(2), want: "two\nthree\nfour"},
		{name: "line 2 limit 2", line: intPtr(2), limit: intPtr(2), want: "two\nthree"},
		{name: "limit only", limit: intPtr(1), want: "one"},
		{name: "past end", line: intPtr(10), want: ""},
		{name: "limit past end", line: intPtr(4), limit: intPtr(5), want: "four"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.ReadTextFile(context.Background(), ReadTextFileRequest{Path: path, Line: tt.line, Limit: tt.limit})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Content)
		})
	}
}

func TestDefaultFsHandlerReadErrors(t *testing.T) {
	h := &DefaultFsHandler{}
	_, err := h.ReadTextFile(context.Background(), ReadTextFileRequest{Path: filepath.Join(t.TempDir(), "missing")})
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)

	_, err = h.ReadTextFile(context.Background(), ReadTextFileRequest{Path: "relative.txt"})
	assert.Error(t, err)
}

func TestDefaultFsHandlerWrite(t *testing.T) {
	dir := t.TempDir()
	h := &DefaultFsHandler{}

	path := filepath.Join(dir, "a", "b", "new.txt")
	require.NoError(t, h.WriteTextFile(context.Background(), WriteTextFileRequest{Path: path, Content: "hello"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	existing := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o755))
	require.NoError(t, h.WriteTextFile(context.Background(), WriteTextFileRequest{Path: existing, Content: "new"}))
	fi, err := os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), fi.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp file left behind")
	}

	assert.Error(t, h.WriteTextFile(context.Background(), WriteTextFileRequest{Path: dir, Content: "x"}))
}
