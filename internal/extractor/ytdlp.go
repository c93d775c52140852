package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/config"
)

// Defaults for the yt-dlp runner.
const (
	DefaultBinary         = "yt-dlp"
	DefaultTimeout        = 2 * time.Minute
	DefaultMaxOutputBytes = 10 * 1024 * 1024
	stderrTailBytes       = 4096
)

// errOutputTooLarge is returned by limitedWriter once the cap is reached.
var errOutputTooLarge = errors.New("output exceeds limit")

// YTDLP runs yt-dlp as a child process with an argument vector.
type YTDLP struct {
	binary    string
	timeout   time.Duration
	maxOutput int64
	logger    zerolog.Logger
	observer  Observer
}

// Observer receives the outcome of every run. metrics.Metrics implements it.
type Observer interface {
	ObserveExtraction(duration time.Duration, reason string)
}

// NewYTDLP creates a runner from configuration, filling unset values with defaults.
func NewYTDLP(cfg config.ExtractorConfig, logger zerolog.Logger, observer Observer) *YTDLP {
	y := &YTDLP{
		binary:    cfg.Binary,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		logger:    logger.With().Str("component", "extractor").Logger(),
		observer:  observer,
	}
	if y.binary == "" {
		y.binary = DefaultBinary
	}
	if y.timeout <= 0 {
		y.timeout = DefaultTimeout
	}
	if y.maxOutput <= 0 {
		y.maxOutput = DefaultMaxOutputBytes
	}
	return y
}

// Args returns the argument vector passed to the tool for url.
// The "--" separator keeps a URL starting with "-" from being read as an option.
func Args(url string) []string {
	return []string{"-J", "--no-warnings", "--no-playlist", "--", url}
}

// Extract runs the tool for url and parses its JSON output.
// The run is cancelled when ctx is done or the configured timeout passes.
func (y *YTDLP) Extract(ctx context.Context, url string) (*Result, error) {
	start := time.Now()
	res, err := y.run(ctx, url)

	reason := "ok"
	if err != nil {
		reason = ReasonOf(err)
		var e *Error
		event := y.logger.Warn().Err(err).Str("url", url).Str("reason", reason).Dur("duration", time.Since(start))
		if errors.As(err, &e) && e.Stderr != "" {
			event = event.Str("stderr", e.Stderr)
		}
		event.Msg("extraction failed")
	} else {
		y.logger.Debug().Str("url", url).Int("formats", len(res.Formats)).Dur("duration", time.Since(start)).Msg("extraction finished")
	}

	if y.observer != nil {
		y.observer.ObserveExtraction(time.Since(start), reason)
	}
	return res, err
}

func (y *YTDLP) run(ctx context.Context, url string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, y.binary, Args(url)...)
	cmd.WaitDelay = 5 * time.Second

	stdout := &limitedWriter{limit: y.maxOutput, onOverflow: cancel}
	stderr := &tailWriter{max: stderrTailBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	switch {
	case stdout.Overflowed():
		return nil, &Error{Reason: "oversize", Stderr: stderr.String(), Err: errOutputTooLarge}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, &Error{Reason: "timeout", Stderr: stderr.String(), Err: ctx.Err()}
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, &Error{Reason: "cancelled", Stderr: stderr.String(), Err: ctx.Err()}
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &Error{Reason: "exit", Stderr: stderr.String(), Err: fmt.Errorf("exit code %d", exitErr.ExitCode())}
		}
		return nil, &Error{Reason: "exec", Stderr: stderr.String(), Err: runErr}
	}

	return Parse(stdout.Bytes())
}

// limitedWriter buffers up to limit bytes and fails further writes.
type limitedWriter struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	onOverflow func()
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.overflowed {
		return 0, errOutputTooLarge
	}
	if int64(w.buf.Len())+int64(len(p)) > w.limit {
		w.overflowed = true
		if w.onOverflow != nil {
			w.onOverflow()
		}
		return 0, errOutputTooLarge
	}
	return w.buf.Write(p)
}

// Overflowed reports whether the limit was hit.
func (w *limitedWriter) Overflowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overflowed
}

// Bytes returns the buffered output.
func (w *limitedWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Bytes()
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = append(w.buf[:0], w.buf[len(w.buf)-w.max:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(bytes.TrimSpace(w.buf))
}

// Ensure YTDLP implements Extractor.
var _ Extractor = (*YTDLP)(nil)
