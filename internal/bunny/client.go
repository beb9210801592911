package bunny

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	volley_errors "volleystat/pkg/errors"
)

const (
	DefaultAPIBase       = "https://video.bunnycdn.com"
	DefaultTusEndpoint   = "https://video.bunnycdn.com/tusupload"
	DefaultCredentialTTL = 30 * time.Minute

	maxErrorBody = 64 << 10
)

type ClientConfig struct {
	APIBase       string
	LibraryID     string
	APIKey        string
	TusEndpoint   string
	CredentialTTL time.Duration
	HTTPClient    *http.Client
}

// Client is the video registry client. Configuration is passed in explicitly
// and never read from the environment here.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.LibraryID == "" || cfg.APIKey == "" {
		return nil, errors.New("bunny client: library id and api key are required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.TusEndpoint == "" {
		cfg.TusEndpoint = DefaultTusEndpoint
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = DefaultCredentialTTL
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now}, nil
}

func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) LibraryID() string {
	return c.cfg.LibraryID
}

// CreateVideo registers a new, empty video and returns the record holding
// the provider-assigned guid.
func (c *Client) CreateVideo(ctx context.Context, title string) (VideoRecord, error) {
	if strings.TrimSpace(title) == "" {
		return VideoRecord{}, volley_errors.NewValidationError("title", "missing title")
	}
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return VideoRecord{}, err
	}

	var rec VideoRecord
	if err := c.do(ctx, "create video", http.MethodPost, c.videosURL(""), body, &rec); err != nil {
		return VideoRecord{}, err
	}
	if rec.GUID == "" {
		return VideoRecord{}, &volley_errors.UpstreamError{Op: "create video", Status: http.StatusBadGateway, Body: "response without guid"}
	}
	return rec, nil
}

// ListVideos returns one page of the library. An empty library is not an error.
func (c *Client) ListVideos(ctx context.Context, page, perPage int) (VideoPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 100
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("itemsPerPage", strconv.Itoa(perPage))

	var out VideoPage
	if err := c.do(ctx, "list videos", http.MethodGet, c.videosURL("")+"?"+q.Encode(), nil, &out); err != nil {
		return VideoPage{}, err
	}
	if out.Items == nil {
		out.Items = []VideoRecord{}
	}
	return out, nil
}

func (c *Client) GetVideo(ctx context.Context, guid string) (VideoRecord, error) {
	if guid == "" {
		return VideoRecord{}, volley_errors.NewValidationError("videoId", "missing videoId")
	}
	var rec VideoRecord
	if err := c.do(ctx, "get video", http.MethodGet, c.videosURL(guid), nil, &rec); err != nil {
		return VideoRecord{}, err
	}
	return rec, nil
}

// DeleteVideo removes a video. Deleting an unknown guid surfaces the
// registry's error.
func (c *Client) DeleteVideo(ctx context.Context, guid string) error {
	if guid == "" {
		return volley_errors.NewValidationError("videoId", "missing videoId")
	}
	return c.do(ctx, "delete video", http.MethodDelete, c.videosURL(guid), nil, nil)
}

// IssueUploadCredential signs a one-time tus credential for an existing video.
func (c *Client) IssueUploadCredential(guid string) (UploadCredential, error) {
	if guid == "" {
		return UploadCredential{}, volley_errors.NewValidationError("videoId", "credential requires an existing video")
	}
	expires := c.now().Add(c.cfg.CredentialTTL).Unix()
	return UploadCredential{
		Endpoint:  c.cfg.TusEndpoint,
		LibraryID: c.cfg.LibraryID,
		VideoID:   guid,
		ExpiresAt: expires,
		Signature: UploadSignature(c.cfg.LibraryID, c.cfg.APIKey, expires, guid),
	}, nil
}

// UploadSignature is hex(SHA256(libraryId + apiKey + expires + guid)).
func UploadSignature(libraryID, apiKey string, expires int64, guid string) string {
	sum := sha256.Sum256([]byte(libraryID + apiKey + strconv.FormatInt(expires, 10) + guid))
	return hex.EncodeToString(sum[:])
}

func (c *Client) videosURL(guid string) string {
	base := fmt.Sprintf("%s/library/%s/videos", c.cfg.APIBase, url.PathEscape(c.cfg.LibraryID))
	if guid == "" {
		return base
	}
	return base + "/" + url.PathEscape(guid)
}

func (c *Client) do(ctx context.Context, op, method, target string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("AccessKey", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &volley_errors.UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
