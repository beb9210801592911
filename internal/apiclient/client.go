// Package apiclient is a small client for the volleystat HTTP API used by the
// uploader command.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"volleystat/internal/bunny"
	"volleystat/internal/transport/httpdto"
	volley_errors "volleystat/pkg/errors"
)

const maxErrorBody = 64 << 10

// Video is one listing entry as served by GET /v1/videos.
type Video struct {
	bunny.VideoRecord
	SignedThumb string `json:"signedThumb"`
	SignedHLS   string `json:"signedHls"`
	EmbedURL    string `json:"embedUrl"`
}

type Listing struct {
	TotalItems   int     `json:"totalItems"`
	CurrentPage  int     `json:"currentPage"`
	ItemsPerPage int     `json:"itemsPerPage"`
	Items        []Video `json:"items"`
}

// Client holds the bearer token of the signed in user. It satisfies
// upload.Issuer so the orchestrator can ask the API for credentials.
type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api client: invalid base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SignIn exchanges credentials for an access token and keeps it for later calls.
func (c *Client) SignIn(ctx context.Context, email, password string) (httpdto.AuthResponse, error) {
	var out httpdto.AuthResponse
	err := c.do(ctx, "sign in", http.MethodPost, "/v1/auth/signin", httpdto.SignInRequest{Email: email, Password: password}, &out)
	if err != nil {
		return httpdto.AuthResponse{}, err
	}
	if out.AccessToken == "" {
		return httpdto.AuthResponse{}, errors.New("sign in: response without access token")
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

// IssueCredential creates a video titled after the file and returns the
// credential the API signed for it.
func (c *Client) IssueCredential(ctx context.Context, title string) (bunny.UploadCredential, error) {
	if strings.TrimSpace(title) == "" {
		return bunny.UploadCredential{}, volley_errors.NewValidationError("title", "missing title")
	}
	var cred bunny.UploadCredential
	if err := c.do(ctx, "create video", http.MethodPost, "/v1/videos", httpdto.CreateVideoRequest{Title: title}, &cred); err != nil {
		return bunny.UploadCredential{}, err
	}
	if cred.VideoID == "" || cred.Signature == "" {
		return bunny.UploadCredential{}, errors.New("create video: incomplete upload credential")
	}
	return cred, nil
}

func (c *Client) ListVideos(ctx context.Context, page, perPage int) (Listing, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("itemsPerPage", strconv.Itoa(perPage))
	}
	path := "/v1/videos"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out Listing
	if err := c.do(ctx, "list videos", http.MethodGet, path, nil, &out); err != nil {
		return Listing{}, err
	}
	if out.Items == nil {
		out.Items = []Video{}
	}
	return out, nil
}

func (c *Client) DeleteVideo(ctx context.Context, guid string) error {
	if guid == "" {
		return volley_errors.NewValidationError("videoId", "missing videoId")
	}
	return c.do(ctx, "delete video", http.MethodPost, "/v1/videos/delete", httpdto.DeleteVideoRequest{VideoID: guid}, nil)
}

// do sends one request and unwraps the response envelope into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	var env httpdto.Response[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && env.Error != "" {
			msg = env.Error
		}
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &volley_errors.UpstreamError{Op: op, Status: resp.StatusCode, Body: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", op, decodeErr)
	}
	if !env.Success {
		return &volley_errors.UpstreamError{Op: op, Status: resp.StatusCode, Body: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}
