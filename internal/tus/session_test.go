package tus

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	volley_errors "volleystat/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpload struct {
	length int64
	data   []byte
	meta   string
}

// fakeServer is a minimal tus endpoint backed by memory.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	uploads  map[string]*fakeUpload
	next     int
	creates  int
	heads    int
	patches  int
	headers  []http.Header
	rejectAt int           // 1-based PATCH number answered with 403
	holdAt   int           // 1-based PATCH number held until the client goes away
	held     chan struct{} // closed when the held PATCH arrives
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{t: t, uploads: map[string]*fakeUpload{}, held: make(chan struct{})}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	if r.Header.Get("Tus-Resumable") != ProtocolVersion {
		http.Error(w, "missing Tus-Resumable", http.StatusPreconditionFailed)
		return
	}

	switch r.Method {
	case http.MethodPost:
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil {
			http.Error(w, "bad length", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.creates++
		f.next++
		id := fmt.Sprintf("u%d", f.next)
		f.uploads[id] = &fakeUpload{length: length, meta: r.Header.Get("Upload-Metadata")}
		f.mu.Unlock()
		w.Header().Set("Location", "/files/"+id)
		w.WriteHeader(http.StatusCreated)

	case http.MethodHead:
		up := f.lookup(r)
		f.mu.Lock()
		f.heads++
		f.mu.Unlock()
		if up == nil {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		w.Header().Set("Upload-Offset", strconv.Itoa(len(up.data)))
		w.Header().Set("Upload-Length", strconv.FormatInt(up.length, 10))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case http.MethodPatch:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.patches++
		n, hold, reject := f.patches, f.holdAt, f.rejectAt
		f.mu.Unlock()

		if n == hold {
			close(f.held)
			<-r.Context().Done()
			return
		}
		if n == reject {
			http.Error(w, "authorization expired", http.StatusForbidden)
			return
		}

		up := f.lookup(r)
		if up == nil {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		off, _ := strconv.Atoi(r.Header.Get("Upload-Offset"))
		if off != len(up.data) {
			http.Error(w, "offset mismatch", http.StatusConflict)
			return
		}
		up.data = append(up.data, body...)
		w.Header().Set("Upload-Offset", strconv.Itoa(len(up.data)))
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeServer) lookup(r *http.Request) *fakeUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[strings.TrimPrefix(r.URL.Path, "/files/")]
}

type serverStats struct {
	creates, heads, patches int
}

func (f *fakeServer) stats() serverStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return serverStats{creates: f.creates, heads: f.heads, patches: f.patches}
}

func (f *fakeServer) requestHeaders() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]http.Header(nil), f.headers...)
}

func (f *fakeServer) meta(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id].meta
}

func (f *fakeServer) data(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.uploads[id].data...)
}

type recorder struct {
	mu        sync.Mutex
	progress  []int64
	totals    []int64
	errs      []error
	successes int
}

func (r *recorder) attach(opts *Options) {
	opts.OnProgress = func(n, total int64) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.progress = append(r.progress, n)
		r.totals = append(r.totals, total)
	}
	opts.OnError = func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	}
	opts.OnSuccess = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.successes++
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newSession(t *testing.T, srv *httptest.Server, content []byte, rec *recorder, mutate func(*Options)) *Session {
	t.Helper()
	opts := Options{
		Endpoint: srv.URL + "/files/",
		Header: http.Header{
			"AuthorizationSignature": []string{"sig"},
			"VideoId":                []string{"abc123"},
		},
	}
	if rec != nil {
		rec.attach(&opts)
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(File{
		Name:        "game1.mp4",
		ContentType: "video/mp4",
		Size:        int64(len(content)),
		Reader:      bytes.NewReader(content),
	}, opts)
	require.NoError(t, err)
	return s
}

func assertMonotonic(t *testing.T, values []int64) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress went backwards at %d", i)
	}
}

func TestUploadInFiveMiBChunks(t *testing.T) {
	fs, srv := newFakeServer(t)
	content := payload(12 * 1024 * 1024)
	rec := &recorder{}
	s := newSession(t, srv, content, rec, nil)

	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateSucceeded, s.State())
	assert.Equal(t, 1, fs.stats().creates)
	assert.Equal(t, 3, fs.stats().patches)
	assert.Equal(t, 1, rec.successes)
	assert.Empty(t, rec.errs)

	mib := int64(1024 * 1024)
	assert.Equal(t, []int64{0, 5 * mib, 10 * mib, 12 * mib}, rec.progress)
	for _, total := range rec.totals {
		assert.Equal(t, 12*mib, total)
	}
	assert.Equal(t, content, fs.data("u1"))
	assert.Equal(t, srv.URL+"/files/u1", s.UploadURL())
}

func TestCredentialHeadersOnEveryRequest(t *testing.T) {
	fs, srv := newFakeServer(t)
	s := newSession(t, srv, payload(3000), nil, func(o *Options) { o.ChunkSize = 1000 })

	require.NoError(t, s.Start())
	s.Wait()
	require.Equal(t, StateSucceeded, s.State())

	headers := fs.requestHeaders()
	require.Len(t, headers, 4)
	for _, h := range headers {
		assert.Equal(t, "sig", h.Get("AuthorizationSignature"))
		assert.Equal(t, "abc123", h.Get("VideoId"))
	}
	assert.Equal(t, "application/offset+octet-stream", headers[1].Get("Content-Type"))
}

func TestCreateSendsMetadata(t *testing.T) {
	fs, srv := newFakeServer(t)
	s := newSession(t, srv, payload(10), nil, func(o *Options) {
		o.Metadata = map[string]string{"title": "Game 1"}
	})

	require.NoError(t, s.Start())
	s.Wait()

	b64 := func(v string) string { return base64.StdEncoding.EncodeToString([]byte(v)) }
	want := "filename " + b64("game1.mp4") + ",filetype " + b64("video/mp4") + ",title " + b64("Game 1")
	assert.Equal(t, want, fs.meta("u1"))
}

func TestAbortThenStartResumesFromServerOffset(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.holdAt = 2
	content := payload(4000)
	rec := &recorder{}
	s := newSession(t, srv, content, rec, func(o *Options) { o.ChunkSize = 1000 })

	require.NoError(t, s.Start())
	<-fs.held

	require.NoError(t, s.Abort())
	assert.Equal(t, StatePaused, s.State())
	assert.Equal(t, int64(1000), s.Offset())
	assert.Empty(t, rec.errs)

	fs.mu.Lock()
	fs.holdAt = 0
	fs.mu.Unlock()

	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateSucceeded, s.State())
	assert.Equal(t, 1, fs.stats().creates)
	assert.Equal(t, 1, fs.stats().heads)
	assert.Equal(t, content, fs.data("u1"))
	assert.Equal(t, 1, rec.successes)
	assert.Empty(t, rec.errs)
	assertMonotonic(t, rec.progress)
	assert.Equal(t, int64(4000), rec.progress[len(rec.progress)-1])
}

func TestRejectedChunkFailsWithoutRetry(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.rejectAt = 1
	rec := &recorder{}
	s := newSession(t, srv, payload(3000), rec, func(o *Options) { o.ChunkSize = 1000 })

	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 1, fs.stats().patches)
	assert.Zero(t, rec.successes)
	require.Len(t, rec.errs, 1)

	var upstream *volley_errors.UpstreamError
	require.ErrorAs(t, rec.errs[0], &upstream)
	assert.Equal(t, http.StatusForbidden, upstream.Status)
	assert.Contains(t, upstream.Body, "authorization expired")
}

func TestUnreachableEndpointIsTransportError(t *testing.T) {
	_, srv := newFakeServer(t)
	rec := &recorder{}
	s := newSession(t, srv, payload(10), rec, nil)
	srv.Close()

	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateFailed, s.State())
	require.Len(t, rec.errs, 1)
	var terr *volley_errors.TransportError
	assert.ErrorAs(t, rec.errs[0], &terr)
}

func TestResumeFromKnownUploadURL(t *testing.T) {
	fs, srv := newFakeServer(t)
	content := payload(2500)
	fs.uploads["prev"] = &fakeUpload{length: 2500, data: append([]byte(nil), content[:2000]...)}

	rec := &recorder{}
	s := newSession(t, srv, content, rec, func(o *Options) {
		o.ChunkSize = 1000
		o.UploadURL = srv.URL + "/files/prev"
	})

	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateSucceeded, s.State())
	assert.Zero(t, fs.stats().creates)
	assert.Equal(t, 1, fs.stats().patches)
	assert.Equal(t, []int64{2000, 2500}, rec.progress)
	assert.Equal(t, content, fs.data("prev"))
}

func TestZeroLengthFile(t *testing.T) {
	fs, srv := newFakeServer(t)
	rec := &recorder{}
	s := newSession(t, srv, nil, rec, nil)

	require.NoError(t, s.Start())
	s.Wait()

	assert.Equal(t, StateSucceeded, s.State())
	assert.Zero(t, fs.stats().patches)
	assert.Equal(t, 1, rec.successes)
}

func TestTransitions(t *testing.T) {
	t.Run("abort before start is a no-op", func(t *testing.T) {
		_, srv := newFakeServer(t)
		s := newSession(t, srv, payload(10), nil, nil)
		assert.NoError(t, s.Abort())
		assert.Equal(t, StateIdle, s.State())
	})

	t.Run("idle session cannot be cancelled", func(t *testing.T) {
		fs, srv := newFakeServer(t)
		s := newSession(t, srv, payload(10), nil, nil)
		assert.ErrorIs(t, s.Cancel(), volley_errors.ErrInvalidTransition)
		assert.Equal(t, StateIdle, s.State())
		assert.Zero(t, fs.stats().creates)

		require.NoError(t, s.Start())
		s.Wait()
		assert.Equal(t, StateSucceeded, s.State())
	})

	t.Run("finished session cannot restart", func(t *testing.T) {
		_, srv := newFakeServer(t)
		s := newSession(t, srv, payload(10), nil, nil)
		require.NoError(t, s.Start())
		s.Wait()

		assert.ErrorIs(t, s.Start(), volley_errors.ErrInvalidTransition)
		assert.ErrorIs(t, s.Abort(), volley_errors.ErrInvalidTransition)
		assert.ErrorIs(t, s.Cancel(), volley_errors.ErrInvalidTransition)
	})

	t.Run("double start", func(t *testing.T) {
		fs, srv := newFakeServer(t)
		fs.holdAt = 1
		s := newSession(t, srv, payload(10), nil, nil)
		require.NoError(t, s.Start())
		<-fs.held

		assert.ErrorIs(t, s.Start(), volley_errors.ErrInvalidTransition)
		require.NoError(t, s.Abort())
	})

	t.Run("cancel from paused", func(t *testing.T) {
		fs, srv := newFakeServer(t)
		fs.holdAt = 1
		rec := &recorder{}
		s := newSession(t, srv, payload(10), rec, nil)
		require.NoError(t, s.Start())
		<-fs.held
		require.NoError(t, s.Abort())

		require.NoError(t, s.Cancel())
		assert.Equal(t, StateCancelled, s.State())
		assert.ErrorIs(t, s.Start(), volley_errors.ErrInvalidTransition)
		assert.Empty(t, rec.errs)
		assert.Zero(t, rec.successes)
	})
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(File{Reader: bytes.NewReader(nil)}, Options{})
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)

	_, err = NewSession(File{}, Options{Endpoint: "http://x"})
	assert.ErrorIs(t, err, volley_errors.ErrInvalidInput)
}
