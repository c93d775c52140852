package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/vidsnag/internal/config"
)

const sampleJSON = `{
	"title": "Big Buck Bunny",
	"thumbnail": "https://img.example.com/bbb.jpg",
	"formats": [
		{"url": "https://cdn.example.com/360.mp4", "ext": "mp4", "format_note": "360p", "format": "18 - 640x360 (360p)"},
		{"url": "https://cdn.example.com/720.webm", "ext": "webm", "resolution": "1280x720"},
		{"url": "rtmp://live.example.com/stream", "ext": "flv", "format_note": "live"},
		{"url": "", "ext": "mhtml"},
		{"url": "http://cdn.example.com/audio.m4a", "ext": "m4a", "format_note": "", "resolution": "", "format": ""}
	]
}`

func TestParse(t *testing.T) {
	res, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "Big Buck Bunny", res.Title)
	assert.Equal(t, "https://img.example.com/bbb.jpg", res.Thumbnail)
	require.Len(t, res.Formats, 3)

	assert.Equal(t, "360p", res.Formats[0].Quality)
	assert.Equal(t, "18 - 640x360 (360p)", res.Formats[0].Label)

	assert.Equal(t, "1280x720", res.Formats[1].Quality)
	assert.Equal(t, UnknownLabel, res.Formats[1].Label)

	assert.Equal(t, "m4a", res.Formats[2].Ext)
	assert.Equal(t, UnknownQuality, res.Formats[2].Quality)
}

func TestParse_Defaults(t *testing.T) {
	tests := []struct {
		name  string
		input string
		title string
	}{
		{"missing title", `{"formats": []}`, DefaultTitle},
		{"null title", `{"title": null}`, DefaultTitle},
		{"empty title", `{"title": ""}`, DefaultTitle},
		{"present", `{"title": "x"}`, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.title, res.Title)
			assert.NotNil(t, res.Formats)
			assert.Empty(t, res.Formats)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, "parse", ReasonOf(err))
}

func TestArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-J", "--no-warnings", "--no-playlist", "--", "-x https://a"},
		Args("-x https://a"))
}

func TestLimitedWriter(t *testing.T) {
	called := false
	w := &limitedWriter{limit: 5, onOverflow: func() { called = true }}

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = w.Write([]byte("def"))
	assert.ErrorIs(t, err, errOutputTooLarge)
	assert.True(t, called)
	assert.True(t, w.Overflowed())
	assert.Equal(t, "abc", string(w.Bytes()))

	_, err = w.Write([]byte("g"))
	assert.ErrorIs(t, err, errOutputTooLarge)
}

func TestTailWriter(t *testing.T) {
	w := &tailWriter{max: 4}
	_, _ = w.Write([]byte("hello"))
	_, _ = w.Write([]byte(" world"))
	assert.Equal(t, "orld", w.String())
}

// fakeTool writes an executable shell script standing in for yt-dlp.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-yt-dlp")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type recordingObserver struct {
	mu      sync.Mutex
	reasons []string
}

func (o *recordingObserver) ObserveExtraction(_ time.Duration, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, reason)
}

func newRunner(binary string, timeout time.Duration, maxOutput int64, obs Observer) *YTDLP {
	return NewYTDLP(config.ExtractorConfig{
		Binary:         binary,
		Timeout:        timeout,
		MaxOutputBytes: maxOutput,
	}, zerolog.Nop(), obs)
}

func TestYTDLP_Success(t *testing.T) {
	jsonFile := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(sampleJSON), 0o644))
	bin := fakeTool(t, "cat '"+jsonFile+"'")

	obs := &recordingObserver{}
	res, err := newRunner(bin, 10*time.Second, 1<<20, obs).Extract(context.Background(), "https://example.com/watch?v=1")
	require.NoError(t, err)

	assert.Equal(t, "Big Buck Bunny", res.Title)
	assert.Len(t, res.Formats, 3)
	assert.Equal(t, []string{"ok"}, obs.reasons)
}

func TestYTDLP_URLIsPassedLiterally(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := fakeTool(t, `for a in "$@"; do printf '%s\n' "$a"; done > '`+argsFile+`'
echo '{"title":"ok","formats":[]}'`)

	url := "https://example.com/$(id);echo pwned"
	_, err := newRunner(bin, 10*time.Second, 1<<20, nil).Extract(context.Background(), url)
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Equal(t, []string{"-J", "--no-warnings", "--no-playlist", "--", url}, lines)
}

func TestYTDLP_Failures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		timeout   time.Duration
		maxOutput int64
		reason    string
	}{
		{
			name:      "non-zero exit",
			body:      "echo 'ERROR: Unsupported URL' >&2; exit 1",
			timeout:   10 * time.Second,
			maxOutput: 1 << 20,
			reason:    "exit",
		},
		{
			name:      "malformed output",
			body:      "echo 'this is not json'",
			timeout:   10 * time.Second,
			maxOutput: 1 << 20,
			reason:    "parse",
		},
		{
			name:      "oversize output",
			body:      `i=0; while [ $i -lt 200 ]; do echo '{"padding":"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}'; i=$((i+1)); done`,
			timeout:   10 * time.Second,
			maxOutput: 256,
			reason:    "oversize",
		},
		{
			name:      "timeout",
			body:      "exec sleep 5",
			timeout:   100 * time.Millisecond,
			maxOutput: 1 << 20,
			reason:    "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := fakeTool(t, tt.body)
			obs := &recordingObserver{}

			res, err := newRunner(bin, tt.timeout, tt.maxOutput, obs).Extract(context.Background(), "https://example.com/v")
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrExtractionFailed)
			assert.Equal(t, tt.reason, ReasonOf(err))
			assert.Equal(t, []string{tt.reason}, obs.reasons)
		})
	}
}

func TestYTDLP_MissingBinary(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "does-not-exist")
	_, err := newRunner(bin, time.Second, 1024, nil).Extract(context.Background(), "https://example.com/v")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, "exec", ReasonOf(err))
}

func TestYTDLP_CallerCancellation(t *testing.T) {
	bin := fakeTool(t, "exec sleep 5")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := newRunner(bin, 10*time.Second, 1024, nil).Extract(ctx, "https://example.com/v")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestNewYTDLP_Defaults(t *testing.T) {
	y := NewYTDLP(config.ExtractorConfig{}, zerolog.Nop(), nil)
	assert.Equal(t, DefaultBinary, y.binary)
	assert.Equal(t, DefaultTimeout, y.timeout)
	assert.Equal(t, int64(DefaultMaxOutputBytes), y.maxOutput)
}
