package acp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FsHandler serves the agent's fs/* requests during a turn. Errors are
// returned to the agent as JSON-RPC errors.
type FsHandler interface {
	ReadTextFile(ctx context.Context, req ReadTextFileRequest) (*ReadTextFileResponse, error)
	WriteTextFile(ctx context.Context, req WriteTextFileRequest) error
}

// DefaultFsHandler reads and writes files directly on the host filesystem.
// Paths must be absolute.
type DefaultFsHandler struct{}

func (h *DefaultFsHandler) ReadTextFile(_ context.Context, req ReadTextFileRequest) (*ReadTextFileResponse, error) {
	if !filepath.IsAbs(req.Path) {
		return nil, fmt.Errorf("path %q is not absolute", req.Path)
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", req.Path, err)
	}
	line, limit := 0, 0
	if req.Line != nil {
		line = *req.Line
	}
	if req.Limit != nil {
		limit = *req.Limit
	}
	return &ReadTextFileResponse{Content: window(string(data), line, limit)}, nil
}

// window returns limit lines starting at the 1-based line. Zero values mean
// from the first line and to the end.
func window(content string, line, limit int) string {
	if line <= 1 && limit <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	start := 0
	if line > 1 {
		start = line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "\n")
}

// WriteTextFile creates missing parent directories and replaces the file
// atomically with a rename, keeping the mode of an existing file.
func (h *DefaultFsHandler) WriteTextFile(_ context.Context, req WriteTextFileRequest) error {
	if !filepath.IsAbs(req.Path) {
		return fmt.Errorf("path %q is not absolute", req.Path)
	}
	dir := filepath.Dir(req.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	mode := fs.FileMode(0o644)
	if fi, err := os.Stat(req.Path); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("%s is a directory", req.Path)
		}
		mode = fi.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", req.Path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(req.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", req.Path, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.WriteString(req.Content)
	if werr == nil {
		werr = tmp.Chmod(mode)
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, req.Path)
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file %s: %w", req.Path, werr)
	}
	return nil
}
