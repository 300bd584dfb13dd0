package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BadgerOps/mirrorpick/internal/safety"
)

const (
	defaultSampleBytes    int64 = 256 * 1024
	defaultConnectTimeout       = 5 * time.Second
	defaultReadTimeout          = 5 * time.Second
	defaultCollectSlack         = 2 * time.Second
	defaultMaxWorkers           = 10
	defaultUserAgent            = "mirrorpick/1.0"
)

// ErrNoCandidates is returned when Select or Resolve is called with no candidates.
var ErrNoCandidates = errors.New("no mirror candidates to select from")

// Options configures a Selector. Zero values fall back to the defaults.
type Options struct {
	// SampleBytes is the size of the prefix requested from each candidate.
	SampleBytes int64
	// ConnectTimeout bounds dial and TLS handshake for a single probe.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for headers and each gap between body reads.
	ReadTimeout time.Duration
	// CollectSlack is added to ReadTimeout to form the per-task collection ceiling.
	CollectSlack time.Duration
	// MaxWorkers caps the number of probes in flight.
	MaxWorkers int
	UserAgent  string

	// Output receives human-readable progress lines. Defaults to os.Stdout.
	Output     io.Writer
	Metrics    *Metrics
	HTTPClient *http.Client
}

// DefaultOptions returns the built-in probe settings.
func DefaultOptions() Options {
	return Options{
		SampleBytes:    defaultSampleBytes,
		ConnectTimeout: defaultConnectTimeout,
		ReadTimeout:    defaultReadTimeout,
		CollectSlack:   defaultCollectSlack,
		MaxWorkers:     defaultMaxWorkers,
		UserAgent:      defaultUserAgent,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SampleBytes <= 0 {
		o.SampleBytes = d.SampleBytes
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.CollectSlack <= 0 {
		o.CollectSlack = d.CollectSlack
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = d.MaxWorkers
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
	return o
}

// Selector probes candidate endpoints concurrently and picks the fastest.
// A Selector holds no per-call state and may be shared; every call builds and
// discards its own worker pool.
type Selector struct {
	opts    Options
	client  *http.Client
	logger  *slog.Logger
	metrics *Metrics
	probeFn probeFunc
}

// NewSelector creates a Selector with the given options and logger.
func NewSelector(opts Options, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	client := opts.HTTPClient
	if client == nil {
		client = safety.NewProbeClient(opts.ConnectTimeout, opts.ReadTimeout)
	}

	s := &Selector{
		opts:    opts,
		client:  client,
		logger:  logger,
		metrics: opts.Metrics,
	}
	s.probeFn = s.probe
	return s
}

// Select returns the fastest candidate, or the first candidate when no probe
// measured a positive rate. It only fails when candidates is empty.
func (s *Selector) Select(ctx context.Context, candidates []string) (string, error) {
	outcome, err := s.Resolve(ctx, candidates)
	if err != nil {
		return "", err
	}
	return outcome.Selected, nil
}

// Resolve is Select plus the collected probe results. A single candidate is
// returned without probing.
func (s *Selector) Resolve(ctx context.Context, candidates []string) (*Outcome, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if len(candidates) == 1 {
		s.metrics.observeResolution(false)
		return &Outcome{Selected: candidates[0], Candidates: 1}, nil
	}

	s.printf("Testing %d mirror(s) to find the fastest...\n", len(candidates))
	start := time.Now()

	futures := s.dispatch(ctx, candidates)
	results, excluded := s.collect(candidates, futures)

	for _, r := range results {
		s.reportProbe(r)
	}
	for _, u := range excluded {
		s.printf("Mirror test: %s - No result within %s\n", u, s.opts.ReadTimeout+s.opts.CollectSlack)
		s.logger.Warn("mirror probe excluded", "url", u, "ceiling", s.opts.ReadTimeout+s.opts.CollectSlack)
	}
	s.metrics.observeExcluded(len(excluded))

	selected, fallback := choose(candidates, results)
	outcome := &Outcome{
		Selected:   selected,
		Fallback:   fallback,
		Candidates: len(candidates),
		Results:    results,
		Excluded:   excluded,
	}
	s.metrics.observeResolution(fallback)

	s.printf("%d of %d mirror(s) responded\n", outcome.Responded(), len(candidates))
	switch {
	case len(results) == 0:
		s.printf("All mirror tests failed, using first URL: %s\n", selected)
	case fallback:
		s.printf("All mirrors failed, using first URL: %s\n", selected)
	default:
		best, _ := outcome.Best()
		s.printf("Selected fastest mirror: %s (%s)\n", selected, FormatRate(best.BytesPerSecond))
	}

	s.logger.Info("mirror selected",
		"url", selected,
		"fallback", fallback,
		"responded", outcome.Responded(),
		"candidates", len(candidates),
		"duration", time.Since(start))

	return outcome, nil
}

func (s *Selector) reportProbe(r ProbeResult) {
	s.metrics.observeProbe(r)
	if !r.Succeeded {
		s.printf("Mirror test: %s - Failed (%s)\n", r.URL, r.Error)
		s.logger.Debug("mirror probe failed", "url", r.URL, "status", r.StatusCode, "error", r.Error)
		return
	}
	s.printf("Mirror test: %s - %s\n", r.URL, FormatRate(r.BytesPerSecond))
	s.logger.Debug("mirror probe finished",
		"url", r.URL,
		"bytes", r.BytesRead,
		"elapsed_ms", r.ElapsedMs,
		"bytes_per_second", r.BytesPerSecond)
}

func (s *Selector) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.opts.Output, format, args...)
}
