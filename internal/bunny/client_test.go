package bunny

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	volley_errors "volleystat/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		APIBase:   srv.URL,
		LibraryID: "lib1",
		APIKey:    "api-key",
	})
	require.NoError(t, err)
	return c
}

func TestCreateVideo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/library/lib1/videos", r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("AccessKey"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "game1.mp4", body["title"])

		_, _ = w.Write([]byte(`{"guid":"abc123","title":"game1.mp4","dateUploaded":"2024-03-05T10:22:41.717"}`))
	})

	rec, err := c.CreateVideo(t.Context(), "game1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.GUID)
	assert.Equal(t, 2024, rec.CreatedAt.Year())
}

func TestCreateVideoRequiresTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("registry must not be called")
	})

	_, err := c.CreateVideo(t.Context(), "  ")
	var verr *volley_errors.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
}

func TestCreateVideoUpstreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"Message":"bad key"}`))
	})

	_, err := c.CreateVideo(t.Context(), "game1.mp4")
	var upstream *volley_errors.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.Status)
	assert.Equal(t, `{"Message":"bad key"}`, upstream.Body)
}

func TestListVideos(t *testing.T) {
	t.Run("passes paging", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "10", r.URL.Query().Get("itemsPerPage"))
			_, _ = w.Write([]byte(`{"totalItems":11,"currentPage":2,"itemsPerPage":10,"items":[{"guid":"g11","title":"t"}]}`))
		})

		page, err := c.ListVideos(t.Context(), 2, 10)
		require.NoError(t, err)
		assert.Equal(t, 11, page.TotalItems)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "g11", page.Items[0].GUID)
	})

	t.Run("empty library", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			assert.Equal(t, "100", r.URL.Query().Get("itemsPerPage"))
			_, _ = w.Write([]byte(`{"totalItems":0}`))
		})

		page, err := c.ListVideos(t.Context(), 0, 0)
		require.NoError(t, err)
		assert.NotNil(t, page.Items)
		assert.Empty(t, page.Items)
	})
}

func TestDeleteMissingVideoSurfaces404(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/library/lib1/videos/nonexistent-guid", r.URL.Path)
		http.Error(w, "Video not found", http.StatusNotFound)
	})

	err := c.DeleteVideo(t.Context(), "nonexistent-guid")
	var upstream *volley_errors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusNotFound, upstream.Status)
	assert.Equal(t, "Video not found", upstream.Body)
}

func TestIssueUploadCredential(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}).
		WithClock(func() time.Time { return now })

	cred, err := c.IssueUploadCredential("abc123")
	require.NoError(t, err)

	assert.Equal(t, now.Unix()+1800, cred.ExpiresAt)
	assert.Equal(t, DefaultTusEndpoint, cred.Endpoint)
	assert.Equal(t, "lib1", cred.LibraryID)
	assert.Equal(t, "abc123", cred.VideoID)
	assert.Equal(t, UploadSignature("lib1", "api-key", now.Unix()+1800, "abc123"), cred.Signature)
	assert.Len(t, cred.Signature, 64)

	h := cred.Headers()
	assert.Equal(t, cred.Signature, h.Get("AuthorizationSignature"))
	assert.Equal(t, "1700001800", h.Get("AuthorizationExpire"))
	assert.Equal(t, "lib1", h.Get("LibraryId"))
	assert.Equal(t, "abc123", h.Get("VideoId"))

	assert.False(t, cred.Expired(now))
	assert.True(t, cred.Expired(now.Add(31*time.Minute)))

	_, err = c.IssueUploadCredential("")
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
}
