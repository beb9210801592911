package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"volleystat/internal/bunny"
	"volleystat/internal/transport/httpdto"
	volley_errors "volleystat/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	t          *testing.T
	lastAuth   string
	lastQuery  string
	lastDelete string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req httpdto.SignInRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, httpdto.NewErrorResponse("invalid email or password", "UNAUTHORIZED"))
			return
		}
		writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(httpdto.AuthResponse{
			AccessToken: "tok-1",
			ExpiresIn:   3600,
			User:        httpdto.AuthUserDTO{ID: "u1", Email: req.Email},
		}))
	})
	mux.HandleFunc("/v1/videos", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		switch r.Method {
		case http.MethodPost:
			var req httpdto.CreateVideoRequest
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(map[string]interface{}{
				"guid":        "vid-9",
				"tusEndpoint": "https://ingest.example/tus",
				"libraryId":   "77",
				"videoId":     "vid-9",
				"expires":     1700001800,
				"signature":   "abc",
			}))
		case http.MethodGet:
			f.lastQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(map[string]interface{}{
				"totalItems":   1,
				"currentPage":  1,
				"itemsPerPage": 100,
				"items": []map[string]interface{}{{
					"guid":         "vid-9",
					"title":        "match.mp4",
					"dateUploaded": "2024-03-01T10:00:00Z",
					"status":       4,
					"signedHls":    "https://cdn.example/77/vid-9/playlist.m3u8?token=x&expires=1",
				}},
			}))
		}
	})
	mux.HandleFunc("/v1/videos/delete", func(w http.ResponseWriter, r *http.Request) {
		var req httpdto.DeleteVideoRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.lastDelete = req.VideoID
		if req.VideoID == "missing" {
			writeJSON(w, http.StatusNotFound, httpdto.NewErrorResponse(`{"message":"video not found"}`, "UPSTREAM_ERROR"))
			return
		}
		writeJSON(w, http.StatusOK, httpdto.NewSuccessResponse(httpdto.OKResponse{OK: true}))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", srv.Client())
	require.NoError(t, err)
	return c, api
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:8080", nil)
	assert.Error(t, err)
}

func TestSignIn_StoresToken(t *testing.T) {
	c, api := newTestClient(t)

	res, err := c.SignIn(context.Background(), "coach@club.org", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.AccessToken)
	assert.Equal(t, "tok-1", c.Token())

	_, err = c.ListVideos(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", api.lastAuth)
}

func TestSignIn_WrongPassword(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.SignIn(context.Background(), "coach@club.org", "nope")
	var upstream *volley_errors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.Status)
	assert.Equal(t, "invalid email or password", upstream.Body)
	assert.Empty(t, c.Token())
}

func TestIssueCredential(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetToken("tok-1")

	cred, err := c.IssueCredential(context.Background(), "match.mp4")
	require.NoError(t, err)
	assert.Equal(t, bunny.UploadCredential{
		Endpoint:  "https://ingest.example/tus",
		LibraryID: "77",
		VideoID:   "vid-9",
		ExpiresAt: 1700001800,
		Signature: "abc",
	}, cred)
}

func TestIssueCredential_TitleRequired(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.IssueCredential(context.Background(), "  ")
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
}

func TestListVideos(t *testing.T) {
	c, api := newTestClient(t)

	listing, err := c.ListVideos(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Equal(t, "itemsPerPage=10&page=2", api.lastQuery)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "vid-9", listing.Items[0].GUID)
	assert.Equal(t, bunny.StatusFinished, listing.Items[0].Status)
	assert.Equal(t, 2024, listing.Items[0].CreatedAt.Year())
	assert.Contains(t, listing.Items[0].SignedHLS, "playlist.m3u8")
}

func TestDeleteVideo(t *testing.T) {
	c, api := newTestClient(t)

	require.NoError(t, c.DeleteVideo(context.Background(), "vid-9"))
	assert.Equal(t, "vid-9", api.lastDelete)

	err := c.DeleteVideo(context.Background(), "missing")
	var upstream *volley_errors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusNotFound, upstream.Status)
	assert.Equal(t, `{"message":"video not found"}`, upstream.Body)

	assert.ErrorIs(t, c.DeleteVideo(context.Background(), ""), volley_errors.ErrInvalidInput)
}
