package tus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	volley_errors "volleystat/pkg/errors"
)

const DefaultChunkSize int64 = 5 * 1024 * 1024

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// File is the local side of an upload. Reader must support concurrent
// ReadAt calls at arbitrary offsets.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.ReaderAt
}

type Options struct {
	Endpoint string
	// Header carries the upload credential; it is sent on every request.
	Header    http.Header
	ChunkSize int64
	Metadata  map[string]string
	// UploadURL resumes an upload created by an earlier session.
	UploadURL  string
	HTTPClient *http.Client

	// Callbacks run on the transfer goroutine. They must not call Abort or
	// Cancel synchronously.
	OnProgress func(transferred, total int64)
	OnError    func(err error)
	OnSuccess  func()
}

// Session transfers one file to one upload endpoint in fixed-size chunks.
// Pausing keeps the server-side upload; a later Start asks the server for
// its offset and continues from there.
type Session struct {
	opts Options
	file File
	http *http.Client

	mu        sync.Mutex
	state     State
	uploadURL string
	offset    int64
	reported  int64
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSession(file File, opts Options) (*Session, error) {
	if opts.Endpoint == "" {
		return nil, volley_errors.NewValidationError("endpoint", "missing upload endpoint")
	}
	if file.Reader == nil {
		return nil, volley_errors.NewValidationError("file", "missing file")
	}
	if file.Size < 0 {
		return nil, volley_errors.NewValidationError("file", "negative size")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// no overall timeout; a chunk on a slow link can take minutes
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 2 * time.Minute,
		}}
	}
	return &Session{
		opts:      opts,
		file:      file,
		http:      httpClient,
		state:     StateIdle,
		uploadURL: opts.UploadURL,
		reported:  -1,
	}, nil
}

// Start begins or resumes the transfer and returns immediately.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle, StatePaused:
	case StateRunning:
		return fmt.Errorf("%w: session already running", volley_errors.ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: session is %s", volley_errors.ErrInvalidTransition, s.state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.state = StateRunning
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done)
	return nil
}

// Abort stops the in-flight transfer and waits for it to exit. Bytes the
// server acknowledged stay acknowledged. Aborting an idle or paused session
// is a no-op.
func (s *Session) Abort() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StatePaused:
		s.mu.Unlock()
		return nil
	case StateRunning:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", volley_errors.ErrInvalidTransition, st)
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StatePaused
	}
	s.mu.Unlock()
	return nil
}

// Cancel aborts the transfer and discards the session. The server-side
// upload is left to expire. Only a running or paused session can be
// cancelled.
func (s *Session) Cancel() error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateRunning && st != StatePaused {
		return fmt.Errorf("%w: session is %s", volley_errors.ErrInvalidTransition, st)
	}
	if err := s.Abort(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: session is %s", volley_errors.ErrInvalidTransition, s.state)
	}
	s.state = StateCancelled
	return nil
}

// Wait blocks until the current run exits.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offset is the last byte count the server acknowledged.
func (s *Session) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *Session) Size() int64 {
	return s.file.Size
}

// UploadURL is empty until the server has created the upload.
func (s *Session) UploadURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadURL
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := s.transfer(ctx)
	if ctx.Err() != nil {
		// aborted; Abort moves the state to paused
		return
	}

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
	} else {
		s.state = StateSucceeded
	}
	s.mu.Unlock()

	if err != nil {
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}
	if s.opts.OnSuccess != nil {
		s.opts.OnSuccess()
	}
}

func (s *Session) transfer(ctx context.Context) error {
	uploadURL := s.UploadURL()
	var offset int64
	if uploadURL == "" {
		loc, err := s.create(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.uploadURL = loc
		s.mu.Unlock()
		uploadURL = loc
	} else {
		off, err := s.head(ctx, uploadURL)
		if err != nil {
			return err
		}
		offset = off
	}
	s.advance(offset)

	for offset < s.file.Size {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := s.opts.ChunkSize
		if rest := s.file.Size - offset; rest < n {
			n = rest
		}
		next, err := s.patch(ctx, uploadURL, offset, n)
		if err != nil {
			return err
		}
		offset = next
		s.advance(offset)
	}
	return nil
}

// advance records a server-acknowledged offset and reports progress. Values
// below the last reported one are not reported.
func (s *Session) advance(offset int64) {
	s.mu.Lock()
	s.offset = offset
	emit := offset >= s.reported
	if emit {
		s.reported = offset
	}
	s.mu.Unlock()

	if emit && s.opts.OnProgress != nil {
		s.opts.OnProgress(offset, s.file.Size)
	}
}
