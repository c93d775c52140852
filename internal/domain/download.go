package domain

import (
	"time"
)

// HistoryLimit is the maximum number of records returned by a history query.
const HistoryLimit = 20

// Format is one downloadable rendition of a video.
type Format struct {
	// URL is the direct media link. Only http and https links are kept.
	URL string `json:"url"`

	// Ext is the container extension reported by the extractor (mp4, webm, ...).
	Ext string `json:"ext"`

	// Quality is a human readable quality note such as "720p".
	Quality string `json:"quality,omitempty"`

	// Label is the extractor's format description.
	Label string `json:"label,omitempty"`
}

// Download records one successful analyze call. Records are immutable
// and outlive the user that created them.
type Download struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	OriginalURL string    `json:"originalUrl"`
	Title       string    `json:"title"`
	Thumbnail   string    `json:"thumbnail"`
	Formats     []Format  `json:"formats"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewDownload creates a download record stamped with the current time.
func NewDownload(userID int64, originalURL, title, thumbnail string, formats []Format) *Download {
	if formats == nil {
		formats = []Format{}
	}
	return &Download{
		UserID:      userID,
		OriginalURL: originalURL,
		Title:       title,
		Thumbnail:   thumbnail,
		Formats:     formats,
		CreatedAt:   time.Now().UTC(),
	}
}
