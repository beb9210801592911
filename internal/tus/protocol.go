// Package tus implements the client side of the tus 1.0.0 resumable upload
// protocol used by the video ingest endpoint.
package tus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	volley_errors "volleystat/pkg/errors"
)

const (
	ProtocolVersion = "1.0.0"
	offsetMediaType = "application/offset+octet-stream"
	maxErrorBody    = 16 << 10
)

// create registers the upload and returns its absolute URL.
func (s *Session) create(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, nil)
	if err != nil {
		return "", err
	}
	s.decorate(req)
	req.Header.Set("Upload-Length", strconv.FormatInt(s.file.Size, 10))
	if meta := encodeMetadata(s.metadata()); meta != "" {
		req.Header.Set("Upload-Metadata", meta)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", s.transportErr(0, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", upstreamErr("create upload", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", &volley_errors.UpstreamError{Op: "create upload", Status: resp.StatusCode, Body: "missing Location header"}
	}
	base, err := url.Parse(s.opts.Endpoint)
	if err != nil {
		return "", err
	}
	abs, err := base.Parse(location)
	if err != nil {
		return "", fmt.Errorf("create upload: bad Location %q: %w", location, err)
	}
	return abs.String(), nil
}

// head asks the server how many bytes it has acknowledged.
func (s *Session) head(ctx context.Context, uploadURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uploadURL, nil)
	if err != nil {
		return 0, err
	}
	s.decorate(req)
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, s.transportErr(s.Offset(), err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, upstreamErr("negotiate offset", resp)
	}
	return s.parseOffset("negotiate offset", resp)
}

// patch sends n bytes starting at offset and returns the new server offset.
func (s *Session) patch(ctx context.Context, uploadURL string, offset, n int64) (int64, error) {
	body := io.NewSectionReader(s.file.Reader, offset, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadURL, body)
	if err != nil {
		return 0, err
	}
	s.decorate(req)
	req.ContentLength = n
	req.Header.Set("Content-Type", offsetMediaType)
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, s.transportErr(offset, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, upstreamErr("upload chunk", resp)
	}
	next, err := s.parseOffset("upload chunk", resp)
	if err != nil {
		return 0, err
	}
	if next <= offset {
		return 0, &volley_errors.UpstreamError{Op: "upload chunk", Status: resp.StatusCode, Body: fmt.Sprintf("offset did not advance past %d", offset)}
	}
	return next, nil
}

func (s *Session) decorate(req *http.Request) {
	for k, vs := range s.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Tus-Resumable", ProtocolVersion)
}

func (s *Session) parseOffset(op string, resp *http.Response) (int64, error) {
	raw := resp.Header.Get("Upload-Offset")
	off, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || off < 0 || off > s.file.Size {
		return 0, &volley_errors.UpstreamError{Op: op, Status: resp.StatusCode, Body: fmt.Sprintf("invalid Upload-Offset %q", raw)}
	}
	return off, nil
}

// transportErr wraps network failures. Cancellation by Abort is passed
// through untouched so the run loop can tell the two apart.
func (s *Session) transportErr(offset int64, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &volley_errors.TransportError{Offset: offset, Err: err}
}

func (s *Session) metadata() map[string]string {
	meta := map[string]string{}
	for k, v := range s.opts.Metadata {
		meta[k] = v
	}
	if s.file.Name != "" {
		meta["filename"] = s.file.Name
	}
	if s.file.ContentType != "" {
		meta["filetype"] = s.file.ContentType
	}
	return meta
}

func upstreamErr(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &volley_errors.UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// encodeMetadata renders the Upload-Metadata header: comma separated
// "key base64(value)" pairs, keys sorted.
func encodeMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+base64.StdEncoding.EncodeToString([]byte(meta[k])))
	}
	return strings.Join(parts, ",")
}
