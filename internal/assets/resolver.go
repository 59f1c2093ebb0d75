// Package assets resolves the visual and audio sources a render request
// names into files inside the job's working directory. Sources are either
// direct http(s) URLs, local:// references into the managed asset directory,
// or keyword queries answered by a stock-footage search collaborator.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	downloadAttempts = 3
	retryBackoff     = 2 * time.Second

	// Responses smaller than this are treated as error pages served with a
	// 200 status, not as media.
	minAssetBytes = 1024
)

// Kind tells the resolver what class of asset a descriptor names, which
// drives stock-search filtering and sanity checks.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Descriptor names one asset to resolve. Exactly one of Source or Query is
// set; validation upstream guarantees this.
type Descriptor struct {
	Source string
	Query  string
	Kind   Kind
}

// DownloadError reports a source that could not be fetched after retries.
type DownloadError struct {
	Source string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Source, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// TooLargeError reports an asset exceeding the configured size cap.
type TooLargeError struct {
	Source string
	Limit  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("asset %s exceeds the %d byte limit", e.Source, e.Limit)
}

// NotFoundError reports a local:// reference or stock query with no match.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.Ref)
}

// StockSearcher answers keyword queries with a downloadable media URL.
type StockSearcher interface {
	Search(ctx context.Context, query string, kind Kind) (string, error)
}

// Resolver fetches assets into job workdirs.
type Resolver struct {
	client        *http.Client
	searcher      StockSearcher
	localAssetDir string
	maxBytes      int64
	backoff       time.Duration
	logger        hclog.Logger
}

// NewResolver builds a resolver. searcher may be nil, in which case query
// descriptors fail with NotFoundError.
func NewResolver(localAssetDir string, maxBytes int64, timeout time.Duration, searcher StockSearcher, logger hclog.Logger) *Resolver {
	return &Resolver{
		client:        &http.Client{Timeout: timeout},
		searcher:      searcher,
		localAssetDir: localAssetDir,
		maxBytes:      maxBytes,
		backoff:       retryBackoff,
		logger:        logger.Named("assets"),
	}
}

// Resolve materializes one descriptor as a file under workdir and returns
// its path.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor, workdir string) (string, error) {
	switch {
	case d.Query != "":
		if r.searcher == nil {
			return "", &NotFoundError{Ref: "query:" + d.Query}
		}
		url, err := r.searcher.Search(ctx, d.Query, d.Kind)
		if err != nil {
			return "", fmt.Errorf("stock search %q: %w", d.Query, err)
		}
		if url == "" {
			return "", &NotFoundError{Ref: "query:" + d.Query}
		}
		return r.download(ctx, url, workdir)
	case strings.HasPrefix(d.Source, "local://"):
		return r.copyLocal(d.Source, workdir)
	default:
		return r.download(ctx, d.Source, workdir)
	}
}

// copyLocal copies a managed asset into the workdir byte for byte; local
// references never touch the network.
func (r *Resolver) copyLocal(ref, workdir string) (string, error) {
	rel := strings.TrimPrefix(ref, "local://")
	src := filepath.Join(r.localAssetDir, filepath.Clean("/"+rel))

	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Ref: ref}
		}
		return "", fmt.Errorf("open local asset: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(workdir, uuid.NewString()+filepath.Ext(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create asset copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("copy local asset: %w", err)
	}
	return dst, nil
}

func (r *Resolver) download(ctx context.Context, url, workdir string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * r.backoff):
			}
		}

		dst, err := r.tryDownload(ctx, url, workdir)
		if err == nil {
			return dst, nil
		}
		if _, ok := err.(*TooLargeError); ok {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		r.logger.Warn("asset download failed", "url", url, "attempt", attempt, "error", err)
	}
	return "", &DownloadError{Source: url, Err: lastErr}
}

func (r *Resolver) tryDownload(ctx context.Context, url, workdir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return "", fmt.Errorf("server returned an HTML page instead of media")
	}
	if resp.ContentLength > 0 && resp.ContentLength > r.maxBytes {
		return "", &TooLargeError{Source: url, Limit: r.maxBytes}
	}

	dst := filepath.Join(workdir, uuid.NewString()+extensionFor(url, resp.Header.Get("Content-Type")))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create download target: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("read body: %w", err)
	}
	if n > r.maxBytes {
		os.Remove(dst)
		return "", &TooLargeError{Source: url, Limit: r.maxBytes}
	}
	if n < minAssetBytes {
		os.Remove(dst)
		return "", fmt.Errorf("response too small to be media (%d bytes)", n)
	}
	return dst, nil
}

func extensionFor(url, contentType string) string {
	if ext := path.Ext(strings.SplitN(path.Base(url), "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch {
	case strings.HasPrefix(contentType, "video/"):
		return ".mp4"
	case strings.HasPrefix(contentType, "image/"):
		return ".jpg"
	case strings.HasPrefix(contentType, "audio/"):
		return ".mp3"
	default:
		return ".bin"
	}
}
