// Package bunny talks to the hosted video registry and signs playback URLs for
// its CDN.
package bunny

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Video encode states reported by the registry.
const (
	StatusCreated    = 0
	StatusUploaded   = 1
	StatusProcessing = 2
	StatusTranscode  = 3
	StatusFinished   = 4
	StatusError      = 5
	StatusUploadFail = 6
)

// VideoRecord is owned by the registry; the application only creates and
// deletes it.
type VideoRecord struct {
	GUID           string    `json:"guid"`
	Title          string    `json:"title"`
	CreatedAt      Timestamp `json:"dateUploaded"`
	Length         int       `json:"length"`
	Status         int       `json:"status"`
	StorageSize    int64     `json:"storageSize"`
	EncodeProgress int       `json:"encodeProgress"`
}

type VideoPage struct {
	TotalItems   int           `json:"totalItems"`
	CurrentPage  int           `json:"currentPage"`
	ItemsPerPage int           `json:"itemsPerPage"`
	Items        []VideoRecord `json:"items"`
}

// UploadCredential authorizes exactly one tus upload target until ExpiresAt.
// It is never persisted.
type UploadCredential struct {
	Endpoint  string `json:"tusEndpoint"`
	LibraryID string `json:"libraryId"`
	VideoID   string `json:"videoId"`
	ExpiresAt int64  `json:"expires"`
	Signature string `json:"signature"`
}

// Headers returns the per-request authorization headers the ingest endpoint expects.
func (c UploadCredential) Headers() http.Header {
	h := http.Header{}
	h.Set("AuthorizationSignature", c.Signature)
	h.Set("AuthorizationExpire", strconv.FormatInt(c.ExpiresAt, 10))
	h.Set("LibraryId", c.LibraryID)
	h.Set("VideoId", c.VideoID)
	return h
}

func (c UploadCredential) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Timestamp accepts the registry's zone-less timestamps as well as RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}
