// Package storage publishes finished render artifacts out of the job
// working directory so cleanup can reclaim workdirs without destroying
// results.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Uploader moves an artifact to durable storage and returns its public URL.
// Implementations must leave the source file in place; publishing is
// best-effort and the caller keeps the local path as a fallback.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) (url string, err error)
}

// LocalPublisher copies artifacts into a served directory and derives URLs
// from a configured base.
type LocalPublisher struct {
	dir     string
	baseURL string
}

// NewLocalPublisher builds a publisher rooted at dir. URLs are baseURL plus
// the artifact name; with an empty baseURL the returned URL is a file path.
func NewLocalPublisher(dir, baseURL string) *LocalPublisher {
	return &LocalPublisher{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Upload copies localPath to the publish directory under name.
func (p *LocalPublisher) Upload(ctx context.Context, localPath, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("create publish directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dstPath := filepath.Join(p.dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("copy artifact: %w", err)
	}

	if p.baseURL == "" {
		return dstPath, nil
	}
	return p.baseURL + "/" + name, nil
}
