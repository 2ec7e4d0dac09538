// Package archive stores raw rendered page snapshots. Snapshots are written
// when extraction cannot recognize the page, so the extractor can be fixed
// against the exact content that broke it.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Archive saves one page snapshot and returns a location for log lines.
type Archive interface {
	SavePage(ctx context.Context, targetID string, body []byte) (string, error)
}

// Noop discards snapshots.
type Noop struct{}

// SavePage does nothing.
func (Noop) SavePage(context.Context, string, []byte) (string, error) {
	return "", nil
}

// FileSystem saves snapshots under a local root directory.
type FileSystem struct {
	root     string
	maxBytes int64
	logger   *zap.Logger
}

// NewFileSystem returns an archive rooted at dir.
func NewFileSystem(root string, maxBytes int64, logger *zap.Logger) (*FileSystem, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", root, err)
	}
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &FileSystem{
		root:     root,
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

// SavePage writes the snapshot to <root>/<target>/<hash>.html.
func (s *FileSystem) SavePage(ctx context.Context, targetID string, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty page body")
	}
	if int64(len(body)) > s.maxBytes {
		return "", fmt.Errorf("page size %d exceeds max %d", len(body), s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	target := filepath.Join(s.root, ObjectPath("", targetID, body))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("creating snapshot dir for %s: %w", target, err)
	}
	if err := os.WriteFile(target, body, 0o600); err != nil {
		return "", fmt.Errorf("writing snapshot to %s: %w", target, err)
	}
	if s.logger != nil {
		s.logger.Debug("page snapshot archived", zap.String("path", target))
	}
	return target, nil
}

// ObjectPath builds the snapshot path used by every backend: an optional
// prefix, the sanitized target id, and the content digest as the filename.
func ObjectPath(prefix, targetID string, body []byte) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, sanitizeID(targetID), watch.ContentHash(body)+".html")
	return strings.Join(parts, "/")
}

func sanitizeID(id string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
