// Package upload drives one video upload end to end: obtain a credential,
// run the resumable transfer, and refresh the library listing on success.
package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"volleystat/internal/bunny"
	"volleystat/internal/tus"
	volley_errors "volleystat/pkg/errors"
	"volleystat/pkg/logger"

	"go.uber.org/zap"
)

type State string

const (
	StateNotStarted           State = "not_started"
	StateRequestingCredential State = "requesting_credential"
	StateTransferring         State = "transferring"
	StatePaused               State = "paused"
	StateCancelled            State = "cancelled"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var ErrCredentialExpired = fmt.Errorf("upload credential expired: %w", volley_errors.ErrConflict)

// Issuer creates the video record and signs an upload credential for it.
type Issuer interface {
	IssueCredential(ctx context.Context, title string) (bunny.UploadCredential, error)
}

// Refresher reloads the listing after a successful upload.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

type Options struct {
	ID         string
	ChunkSize  int64
	HTTPClient *http.Client
	// Listener runs on the transfer goroutine and must not call back into
	// the orchestrator synchronously.
	Listener       func(Event)
	RefreshTimeout time.Duration
	Now            func() time.Time
	Logger         *logger.Logger
}

// Orchestrator runs one upload attempt.
type Orchestrator struct {
	issuer    Issuer
	refresher Refresher
	opts      Options

	// ctl serializes Start/Pause/Resume/Cancel; mu guards the fields below
	// and is the only lock taken by session callbacks.
	ctl sync.Mutex
	mu  sync.Mutex

	state       State
	source      Source
	cred        *bunny.UploadCredential
	session     *tus.Session
	transferred int64
	total       int64
	lastErr     error
	updatedAt   time.Time
	// released is set once the source has been closed.
	released bool

	// finished is replaced by Restart; a terminal transition closes it.
	finished     chan struct{}
	refreshing   sync.WaitGroup
	refreshedErr error
}

func NewOrchestrator(issuer Issuer, refresher Refresher, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	return &Orchestrator{
		issuer:    issuer,
		refresher: refresher,
		opts:      opts,
		state:     StateNotStarted,
		updatedAt: opts.Now(),
		finished:  make(chan struct{}),
	}
}

// Start requests a credential and begins the transfer. It blocks only for
// the credential request.
func (o *Orchestrator) Start(ctx context.Context, src Source) error {
	if src == nil {
		return volley_errors.NewValidationError("file", "no file selected")
	}

	o.ctl.Lock()
	defer o.ctl.Unlock()

	o.mu.Lock()
	if o.state != StateNotStarted {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: upload is %s", volley_errors.ErrInvalidTransition, st)
	}
	o.source = src
	o.total = src.Size()
	o.mu.Unlock()
	o.transition(StateRequestingCredential, nil)

	cred, err := o.issuer.IssueCredential(ctx, src.Name())
	if err != nil {
		o.opts.Logger.ErrorCtx(ctx, "upload credential request failed", zap.String("upload_id", o.opts.ID), zap.Error(err))
		o.fail(err)
		return err
	}

	sess, err := o.newSession(cred, src, "")
	if err != nil {
		o.fail(err)
		return err
	}

	o.mu.Lock()
	o.cred = &cred
	o.session = sess
	o.mu.Unlock()
	o.transition(StateTransferring, nil)

	if err := sess.Start(); err != nil {
		o.fail(err)
		return err
	}
	o.opts.Logger.InfoCtx(ctx, "upload started",
		zap.String("upload_id", o.opts.ID),
		zap.String("video_id", cred.VideoID),
		zap.Int64("size", src.Size()),
	)
	return nil
}

// Pause aborts the in-flight chunk. Acknowledged bytes are kept server side.
func (o *Orchestrator) Pause() error {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	sess, err := o.sessionIn(StateTransferring)
	if err != nil {
		return err
	}
	if err := sess.Abort(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state != StateTransferring || sess.State() != tus.StatePaused {
		// the transfer finished before the abort landed
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: upload is %s", volley_errors.ErrInvalidTransition, st)
	}
	o.mu.Unlock()
	o.transition(StatePaused, nil)
	return nil
}

// Resume continues a paused upload from the server's offset. A credential
// that expired while paused fails the upload instead.
func (o *Orchestrator) Resume() error {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	sess, err := o.sessionIn(StatePaused)
	if err != nil {
		return err
	}

	o.mu.Lock()
	expired := o.cred != nil && o.cred.Expired(o.opts.Now())
	o.mu.Unlock()
	if expired {
		_ = sess.Cancel()
		o.fail(ErrCredentialExpired)
		return ErrCredentialExpired
	}

	o.transition(StateTransferring, nil)
	if err := sess.Start(); err != nil {
		o.fail(err)
		return err
	}
	return nil
}

// Restart continues an upload that failed on a network error. The new
// session asks the server for its offset, so acknowledged bytes are not
// sent again. An expired credential releases the source for good.
func (o *Orchestrator) Restart() error {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	o.mu.Lock()
	if o.state != StateFailed || o.released || o.session == nil {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: upload is %s", volley_errors.ErrInvalidTransition, st)
	}
	var terr *volley_errors.TransportError
	if !errors.As(o.lastErr, &terr) {
		o.mu.Unlock()
		return fmt.Errorf("%w: upload failed permanently", volley_errors.ErrInvalidTransition)
	}
	expired := o.cred.Expired(o.opts.Now())
	prev, src, cred := o.session, o.source, *o.cred
	o.mu.Unlock()

	if expired {
		o.release()
		return ErrCredentialExpired
	}

	sess, err := o.newSession(cred, src, prev.UploadURL())
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.session = sess
	o.state = StateTransferring
	o.lastErr = nil
	o.finished = make(chan struct{})
	o.updatedAt = o.opts.Now()
	ev := o.eventLocked(EventState)
	o.mu.Unlock()
	o.emit(ev)

	if err := sess.Start(); err != nil {
		o.fail(err)
		return err
	}
	o.opts.Logger.Infof("upload %s restarted from offset %d", o.opts.ID, terr.Offset)
	return nil
}

// Discard gives up on a failed upload and closes its source, so it can no
// longer be restarted.
func (o *Orchestrator) Discard() error {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	o.mu.Lock()
	st := o.state
	o.mu.Unlock()
	if st != StateFailed {
		return fmt.Errorf("%w: upload is %s", volley_errors.ErrInvalidTransition, st)
	}
	o.release()
	return nil
}

// Restartable reports whether Restart would be accepted now.
func (o *Orchestrator) Restartable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.restartableLocked()
}

// Cancel stops the transfer and discards the session. The video record
// created for it is left in place.
func (o *Orchestrator) Cancel() error {
	o.ctl.Lock()
	defer o.ctl.Unlock()

	sess, err := o.sessionIn(StateTransferring, StatePaused)
	if err != nil {
		return err
	}
	if err := sess.Cancel(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state.Terminal() {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: upload is %s", volley_errors.ErrInvalidTransition, st)
	}
	o.session = nil
	o.mu.Unlock()
	o.transition(StateCancelled, nil)
	return nil
}

// Wait blocks until the upload reaches a terminal state and, after a
// success, until the listing refresh has run.
func (o *Orchestrator) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-o.Done():
		o.refreshing.Wait()
		return o.Snapshot(), nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

// Done is closed once the upload reaches a terminal state. After a
// Restart, call it again for the new attempt.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished
}

// RefreshErr is the error of the post-success listing refresh, if any.
func (o *Orchestrator) RefreshErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refreshedErr
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{
		ID:          o.opts.ID,
		State:       o.state,
		Transferred: o.transferred,
		Total:       o.total,
		Percent:     percent(o.transferred, o.total),
		UpdatedAt:   o.updatedAt,
	}
	if o.source != nil {
		snap.FileName = o.source.Name()
	}
	if o.cred != nil {
		snap.VideoID = o.cred.VideoID
	}
	if o.lastErr != nil {
		snap.Error = o.lastErr.Error()
	}
	if o.session != nil {
		snap.UploadURL = o.session.UploadURL()
	}
	snap.Restartable = o.restartableLocked()
	return snap
}

func (o *Orchestrator) restartableLocked() bool {
	if o.state != StateFailed || o.released || o.session == nil || o.cred == nil {
		return false
	}
	var terr *volley_errors.TransportError
	return errors.As(o.lastErr, &terr) && !o.cred.Expired(o.opts.Now())
}

func (o *Orchestrator) newSession(cred bunny.UploadCredential, src Source, uploadURL string) (*tus.Session, error) {
	return tus.NewSession(tus.File{
		Name:        src.Name(),
		ContentType: src.ContentType(),
		Size:        src.Size(),
		Reader:      src,
	}, tus.Options{
		Endpoint:   cred.Endpoint,
		Header:     cred.Headers(),
		ChunkSize:  o.opts.ChunkSize,
		Metadata:   map[string]string{"title": src.Name()},
		UploadURL:  uploadURL,
		HTTPClient: o.opts.HTTPClient,
		OnProgress: o.onProgress,
		OnError:    o.onError,
		OnSuccess:  o.onSuccess,
	})
}

// release closes the source once.
func (o *Orchestrator) release() {
	o.mu.Lock()
	src, done := o.source, o.released
	o.released = true
	o.mu.Unlock()
	if !done && src != nil {
		_ = src.Close()
	}
}

func (o *Orchestrator) sessionIn(allowed ...State) (*tus.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, st := range allowed {
		if o.state == st && o.session != nil {
			return o.session, nil
		}
	}
	return nil, fmt.Errorf("%w: upload is %s", volley_errors.ErrInvalidTransition, o.state)
}

func (o *Orchestrator) onProgress(transferred, total int64) {
	o.mu.Lock()
	if transferred > total {
		transferred = total
	}
	if transferred > o.transferred {
		o.transferred = transferred
	}
	o.total = total
	o.updatedAt = o.opts.Now()
	ev := o.eventLocked(EventProgress)
	o.mu.Unlock()
	o.emit(ev)
}

func (o *Orchestrator) onError(err error) {
	o.opts.Logger.Errorf("upload %s failed: %v", o.opts.ID, err)
	o.fail(err)
}

func (o *Orchestrator) onSuccess() {
	o.mu.Lock()
	o.transferred = o.total
	o.mu.Unlock()

	if o.refresher != nil {
		o.refreshing.Add(1)
	}
	o.transition(StateSucceeded, nil)
	if o.refresher != nil {
		go o.refresh()
	}
}

func (o *Orchestrator) refresh() {
	defer o.refreshing.Done()

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.RefreshTimeout)
	defer cancel()

	err := o.refresher.Refresh(ctx)
	if err != nil {
		o.opts.Logger.Warnf("listing refresh after upload %s failed: %v", o.opts.ID, err)
	}

	o.mu.Lock()
	o.refreshedErr = err
	ev := o.eventLocked(EventRefresh)
	if err != nil {
		ev.Error = err.Error()
	}
	o.mu.Unlock()
	o.emit(ev)
}

func (o *Orchestrator) fail(err error) {
	o.transition(StateFailed, err)
}

func (o *Orchestrator) transition(to State, err error) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	o.state = to
	if err != nil {
		o.lastErr = err
	}
	o.updatedAt = o.opts.Now()
	ev := o.eventLocked(EventState)
	// a restartable failure keeps the source open for Restart
	keep := o.restartableLocked()
	finished := o.finished
	o.mu.Unlock()

	o.emit(ev)
	if to.Terminal() {
		if !keep {
			o.release()
		}
		close(finished)
	}
}

func (o *Orchestrator) eventLocked(typ EventType) Event {
	ev := Event{
		Type:        typ,
		UploadID:    o.opts.ID,
		State:       o.state,
		Transferred: o.transferred,
		Total:       o.total,
		Percent:     percent(o.transferred, o.total),
		Time:        o.updatedAt,
	}
	if o.cred != nil {
		ev.VideoID = o.cred.VideoID
	}
	if o.lastErr != nil && typ == EventState {
		ev.Error = o.lastErr.Error()
		ev.Restartable = o.restartableLocked()
	}
	return ev
}

func (o *Orchestrator) emit(ev Event) {
	if o.opts.Listener != nil {
		o.opts.Listener(ev)
	}
}

func percent(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
