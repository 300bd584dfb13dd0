package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// probeFunc measures a single candidate. It must always return a result.
type probeFunc func(ctx context.Context, rawURL string) ProbeResult

// probe downloads at most SampleBytes of rawURL with a byte-range request and
// reports the effective transfer rate. Every failure mode is folded into a
// result with Succeeded false and a zero rate.
func (s *Selector) probe(ctx context.Context, rawURL string) ProbeResult {
	res := ProbeResult{URL: rawURL}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", s.opts.SampleBytes-1))

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		res.ElapsedMs = time.Since(start).Milliseconds()
		res.Error = describeProbeError(err)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		res.ElapsedMs = time.Since(start).Milliseconds()
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return res
	}

	body := newIdleTimeoutReader(resp.Body, s.opts.ReadTimeout, cancel)
	defer body.stop()

	n, err := io.Copy(io.Discard, io.LimitReader(body, s.opts.SampleBytes))
	elapsed := time.Since(start)
	res.BytesRead = n
	res.ElapsedMs = elapsed.Milliseconds()
	if err != nil {
		if body.timedOut() {
			res.Error = fmt.Sprintf("read timed out after %s", s.opts.ReadTimeout)
		} else {
			res.Error = describeProbeError(err)
		}
		return res
	}

	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	res.BytesPerSecond = n * 1000 / ms
	res.Succeeded = true
	return res
}

// describeProbeError trims the *url.Error wrapper, which only repeats the
// method and URL already carried by the result.
func describeProbeError(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return "timeout: " + uerr.Err.Error()
		}
		return uerr.Err.Error()
	}
	return err.Error()
}

// idleTimeoutReader cancels the probe when no bytes arrive for timeout.
// Every successful read re-arms the timer.
type idleTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleTimeoutReader(r io.Reader, timeout time.Duration, onIdle context.CancelFunc) *idleTimeoutReader {
	ir := &idleTimeoutReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		onIdle()
	})
	return ir
}

func (ir *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.fired.Load() {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleTimeoutReader) stop() {
	ir.timer.Stop()
}

func (ir *idleTimeoutReader) timedOut() bool {
	return ir.fired.Load()
}
