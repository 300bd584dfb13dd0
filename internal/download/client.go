package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/ratelimit"

	"github.com/BadgerOps/mirrorpick/internal/safety"
)

// ErrChecksumMismatch is returned when the fetched artifact does not hash to
// the expected SHA-256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ErrSizeMismatch is returned when no checksum is given and the final size
// differs from the expected size.
var ErrSizeMismatch = errors.New("size mismatch")

// ProgressFunc is called as bytes arrive.
// totalBytes is 0 when the size is unknown.
type ProgressFunc func(bytesDownloaded, totalBytes int64)

// Options describes a single artifact fetch.
type Options struct {
	URL              string
	DestPath         string
	ExpectedChecksum string // SHA256 hex string, empty to skip validation
	ExpectedSize     int64  // 0 to skip size check
	RetryCount       int    // 0 defaults to 3
	RateLimit        int64  // bytes per second, 0 = unlimited
	OnProgress       ProgressFunc
}

// Result contains the result of a successful download.
type Result struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	SHA256   string        `json:"sha256"`
	Resumed  bool          `json:"resumed"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Client performs HTTP downloads with retry logic, resumption, and validation.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a new download client with the given logger.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  safety.NewTransferClient(),
		logger:      logger,
		userAgent:   "mirrorpick/1.0",
		backoffFunc: calculateBackoffDelay,
	}
}

// Download fetches opts.URL into opts.DestPath. Partial files are resumed
// when the expected size is known, failed attempts are retried with
// exponential backoff, and the result is verified against the checksum or
// size when given.
func (c *Client) Download(ctx context.Context, opts Options) (*Result, error) {
	if opts.URL == "" || opts.DestPath == "" {
		return nil, fmt.Errorf("download requires both a URL and a destination path")
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	opts.ExpectedChecksum = strings.ToLower(strings.TrimSpace(opts.ExpectedChecksum))

	var bucket *ratelimit.Bucket
	if opts.RateLimit > 0 {
		// One tenth of a second worth of burst keeps the cap smooth.
		capacity := opts.RateLimit / 10
		if capacity < 1 {
			capacity = 1
		}
		bucket = ratelimit.NewBucketWithRate(float64(opts.RateLimit), capacity)
	}

	startTime := time.Now()
	var lastErr error
	var resumed bool

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		default:
		}

		fileSize := int64(0)
		if fi, err := os.Stat(opts.DestPath); err == nil {
			existingSize := fi.Size()
			// A file at or past the expected size (or of unknown size) is stale.
			if opts.ExpectedSize > 0 && existingSize < opts.ExpectedSize {
				fileSize = existingSize
				resumed = resumed || existingSize > 0
			} else if existingSize > 0 {
				_ = os.Remove(opts.DestPath)
			}
		}

		if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		flags := os.O_CREATE | os.O_WRONLY
		if fileSize > 0 {
			flags |= os.O_APPEND
		}

		file, err := os.OpenFile(opts.DestPath, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}

		result, err := c.downloadAttempt(ctx, file, opts, bucket, fileSize, attempt)
		file.Close()

		if err == nil {
			result.Resumed = resumed
			result.Attempts = attempt
			result.Duration = time.Since(startTime)
			c.logger.Info("download complete", "url", opts.URL, "path", result.Path,
				"size", result.Size, "attempts", attempt, "resumed", resumed)
			return result, nil
		}

		lastErr = err
		c.logger.Warn("download attempt failed", "url", opts.URL, "attempt", attempt, "error", err)

		// Keep the partial file so a later run can resume.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if shouldNotRetry(err) {
			_ = os.Remove(opts.DestPath)
			return nil, err
		}

		if attempt < opts.RetryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying download", "url", opts.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", opts.RetryCount, lastErr)
}

func (c *Client) downloadAttempt(ctx context.Context, file *os.File, opts Options, bucket *ratelimit.Bucket, fileSize int64, attempt int) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if fileSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", fileSize))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	// 200 on a ranged request means the server ignored the range.
	if resp.StatusCode == http.StatusOK && fileSize > 0 {
		if err := file.Truncate(0); err != nil {
			return nil, fmt.Errorf("failed to truncate partial file: %w", err)
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind partial file: %w", err)
		}
		fileSize = 0
	}

	totalSize := resp.ContentLength
	if totalSize > 0 && fileSize > 0 {
		totalSize += fileSize
	}
	if totalSize < 0 {
		totalSize = opts.ExpectedSize
	}

	var reader io.Reader = resp.Body
	if bucket != nil {
		reader = ratelimit.Reader(reader, bucket)
	}
	if opts.OnProgress != nil {
		reader = &progressReader{
			reader:   reader,
			callback: opts.OnProgress,
			current:  fileSize,
			total:    totalSize,
		}
	}

	downloadedBytes, err := io.Copy(file, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to write to file: %w", err)
	}

	finalSize := fileSize + downloadedBytes

	// Hash the whole file; a resumed attempt only fetched the tail.
	sha256Hex, err := hashFile(opts.DestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}

	if opts.ExpectedChecksum != "" {
		if sha256Hex != opts.ExpectedChecksum {
			_ = os.Remove(opts.DestPath)
			return nil, fmt.Errorf("%w: got %s, expected %s", ErrChecksumMismatch, sha256Hex, opts.ExpectedChecksum)
		}
		if opts.ExpectedSize > 0 && finalSize != opts.ExpectedSize {
			c.logger.Warn("size differs from expected but checksum matches, accepting file",
				"path", opts.DestPath, "got_size", finalSize, "expected_size", opts.ExpectedSize)
		}
	} else if opts.ExpectedSize > 0 && finalSize != opts.ExpectedSize {
		_ = os.Remove(opts.DestPath)
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, finalSize, opts.ExpectedSize)
	}

	return &Result{
		Path:     opts.DestPath,
		Size:     finalSize,
		SHA256:   sha256Hex,
		Attempts: attempt,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// calculateBackoffDelay doubles a 1s base each attempt and adds up to half
// of that again as jitter.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry reports whether err is permanent.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 4xx is permanent, except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		if pr.callback != nil {
			pr.callback(pr.current, pr.total)
		}
	}
	return n, err
}
