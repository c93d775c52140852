// Package extractor resolves a video page URL into downloadable formats by
// running an external extraction tool.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/prn-tf/vidsnag/internal/domain"
)

// Default values
const (
	DefaultTitle   = "Unknown Title"
	UnknownQuality = "unknown"
	UnknownLabel   = "unknown"
)

// ErrExtractionFailed is returned for every extraction failure. The cause is
// attached with %w-wrapping inside an *Error.
var ErrExtractionFailed = errors.New("extraction failed")

// Error carries the cause of a failed extraction.
type Error struct {
	// Reason is a short machine-friendly label: exec, exit, timeout, oversize, parse, cancelled.
	Reason string

	// Stderr is the tail of the tool's stderr, if any.
	Stderr string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrExtractionFailed.Error(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExtractionFailed}
	}
	return []error{ErrExtractionFailed, e.Err}
}

// ReasonOf returns the failure reason of err, or "unknown".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "unknown"
}

// Result is the outcome of a successful extraction.
type Result struct {
	Title     string          `json:"title"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	Formats   []domain.Format `json:"formats"`
}

// Extractor resolves a URL into a Result.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Result, error)
}

// rawInfo is the subset of the tool's JSON document that is used.
type rawInfo struct {
	Title     *string     `json:"title"`
	Thumbnail *string     `json:"thumbnail"`
	Formats   []rawFormat `json:"formats"`
}

type rawFormat struct {
	URL        string `json:"url"`
	Ext        string `json:"ext"`
	FormatNote string `json:"format_note"`
	Resolution string `json:"resolution"`
	Format     string `json:"format"`
}

// Parse maps the tool's JSON document onto a Result.
// Formats without an http or https URL are dropped.
func Parse(data []byte) (*Result, error) {
	var info rawInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &Error{Reason: "parse", Err: err}
	}

	res := &Result{
		Title:   DefaultTitle,
		Formats: make([]domain.Format, 0, len(info.Formats)),
	}
	if info.Title != nil && *info.Title != "" {
		res.Title = *info.Title
	}
	if info.Thumbnail != nil {
		res.Thumbnail = *info.Thumbnail
	}

	for _, f := range info.Formats {
		if !isHTTPURL(f.URL) {
			continue
		}

		quality := f.FormatNote
		if quality == "" {
			quality = f.Resolution
		}
		if quality == "" {
			quality = UnknownQuality
		}

		label := f.Format
		if label == "" {
			label = UnknownLabel
		}

		res.Formats = append(res.Formats, domain.Format{
			URL:     f.URL,
			Ext:     f.Ext,
			Quality: quality,
			Label:   label,
		})
	}

	return res, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
