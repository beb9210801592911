package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"volleystat/config"
	"volleystat/internal/domain/job"
	"volleystat/internal/repository"
	"volleystat/internal/storage"
	"volleystat/internal/upload"
	volley_errors "volleystat/pkg/errors"
	"volleystat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTooManyUploads is returned when MaxJobs transfers are already running.
var ErrTooManyUploads = fmt.Errorf("%w: too many uploads in progress", volley_errors.ErrRateLimited)

const progressPersistInterval = time.Second

// EventPublisher fans job events out to the user's websocket connections.
type EventPublisher interface {
	PublishJSON(ctx context.Context, channel string, v interface{}) error
}

// StagingStore is the bucket browsers PUT footage into before the server
// forwards it to the ingest endpoint.
type StagingStore interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error)
	Open(ctx context.Context, key, name string) (upload.Source, error)
	Delete(ctx context.Context, key string) error
	PresignTTL() time.Duration
}

type UploadJobService struct {
	repo       repository.UploadJobRepository
	issuer     upload.Issuer
	refresher  upload.Refresher
	staging    StagingStore
	publisher  EventPublisher
	channel    func(userID string) string
	cfg        config.UploadConfig
	httpClient *http.Client
	log        *logger.Logger
	now        func() time.Time

	mu   sync.Mutex
	jobs map[uuid.UUID]*runningJob
	// pending counts slots reserved by requests still staging their file.
	pending int

	closing   chan struct{}
	closeOnce sync.Once
}

type runningJob struct {
	id      uuid.UUID
	ownerID uuid.UUID
	orch    *upload.Orchestrator
	cleanup func(succeeded bool)
	// parked is set while a restartable failed job waits for Restart; it
	// does not hold a slot then. Guarded by the service mutex.
	parked    bool
	restarted chan struct{}

	persistMu  sync.Mutex
	lastSaved  time.Time
	videoSaved bool
	rowFailed  bool
}

type UploadJobDeps struct {
	Repo      repository.UploadJobRepository
	Issuer    upload.Issuer
	Refresher upload.Refresher
	Staging   StagingStore
	Publisher EventPublisher
	// Channel names the pub/sub channel of a user; required with Publisher.
	Channel    func(userID string) string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

func NewUploadJobService(deps UploadJobDeps, cfg config.UploadConfig) *UploadJobService {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 4
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = 30 * time.Minute
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &UploadJobService{
		repo:       deps.Repo,
		issuer:     deps.Issuer,
		refresher:  deps.Refresher,
		staging:    deps.Staging,
		publisher:  deps.Publisher,
		channel:    deps.Channel,
		cfg:        cfg,
		httpClient: deps.HTTPClient,
		log:        log,
		now:        time.Now,
		jobs:       make(map[uuid.UUID]*runningJob),
		closing:    make(chan struct{}),
	}
}

// StagingTarget is a presigned PUT for one staged file.
type StagingTarget struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// JobView merges the durable row with the live orchestrator when one exists.
type JobView struct {
	ID          uuid.UUID  `json:"id"`
	VideoID     string     `json:"videoId,omitempty"`
	FileName    string     `json:"fileName"`
	Source      string     `json:"source"`
	State       string     `json:"state"`
	Transferred int64      `json:"transferred"`
	Total       int64      `json:"total"`
	Percent     float64    `json:"percent"`
	Error       string     `json:"error,omitempty"`
	Live        bool       `json:"live"`
	Restartable bool       `json:"restartable,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PresignStaging reserves a staging key for uploaderID and signs a PUT for it.
func (s *UploadJobService) PresignStaging(ctx context.Context, uploaderID uuid.UUID, fileName, contentType string, size int64) (StagingTarget, error) {
	if s.staging == nil {
		return StagingTarget{}, storage.ErrNotConfigured
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return StagingTarget{}, volley_errors.NewValidationError("fileName", "fileName is required")
	}
	if size <= 0 {
		return StagingTarget{}, volley_errors.NewValidationError("size", "size must be positive")
	}
	if contentType == "" {
		contentType = upload.ContentTypeFor(fileName)
	}

	key := storage.StagingKey(uploaderID, fileName)
	url, headers, err := s.staging.PresignPut(ctx, key, contentType, size)
	if err != nil {
		return StagingTarget{}, err
	}
	return StagingTarget{
		Key:       key,
		URL:       url,
		Headers:   headers,
		ExpiresAt: s.now().Add(s.staging.PresignTTL()),
	}, nil
}

// StartFromReader stages r on local disk and uploads it from there.
func (s *UploadJobService) StartFromReader(ctx context.Context, uploaderID uuid.UUID, fileName, contentType string, r io.Reader) (JobView, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return JobView{}, volley_errors.NewValidationError("file", "no file selected")
	}
	if err := s.reserve(); err != nil {
		return JobView{}, err
	}

	src, staged, err := s.stageLocal(fileName, contentType, r)
	if err != nil {
		s.release()
		return JobView{}, err
	}

	return s.start(ctx, uploaderID, src, job.SourceMultipart, "", func(bool) {
		if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warnf("remove staged file %s: %v", staged, err)
		}
	})
}

// stageLocal copies r into a temp file under the staging dir.
func (s *UploadJobService) stageLocal(fileName, contentType string, r io.Reader) (upload.Source, string, error) {
	if err := os.MkdirAll(s.cfg.StagingDir, 0o755); err != nil {
		return nil, "", err
	}
	f, err := os.CreateTemp(s.cfg.StagingDir, "upload-*"+filepath.Ext(fileName))
	if err != nil {
		return nil, "", err
	}
	staged := f.Name()
	discard := func() {
		_ = f.Close()
		_ = os.Remove(staged)
	}
	if _, err := io.Copy(f, r); err != nil {
		discard()
		return nil, "", fmt.Errorf("stage %s: %w", fileName, err)
	}

	src, err := upload.NamedFile(f, fileName, contentType)
	if err != nil {
		discard()
		return nil, "", err
	}
	return src, staged, nil
}

// StartFromObject uploads a file the user previously PUT to the staging bucket.
// The object is deleted once the upload succeeds.
func (s *UploadJobService) StartFromObject(ctx context.Context, uploaderID uuid.UUID, key, fileName string) (JobView, error) {
	if s.staging == nil {
		return JobView{}, storage.ErrNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return JobView{}, volley_errors.NewValidationError("key", "key is required")
	}
	if !storage.OwnsKey(uploaderID, key) {
		return JobView{}, volley_errors.ErrForbidden
	}
	if fileName = strings.TrimSpace(fileName); fileName == "" {
		fileName = filepath.Base(key)
	}
	if err := s.reserve(); err != nil {
		return JobView{}, err
	}

	src, err := s.staging.Open(ctx, key, fileName)
	if err != nil {
		s.release()
		return JobView{}, err
	}

	return s.start(ctx, uploaderID, src, job.SourceS3, key, func(succeeded bool) {
		if !succeeded {
			return
		}
		delCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.staging.Delete(delCtx, key); err != nil {
			s.log.Warnf("delete staged object %s: %v", key, err)
		}
	})
}

// start creates the job row and launches the transfer. It owns the slot the
// caller reserved.
func (s *UploadJobService) start(ctx context.Context, uploaderID uuid.UUID, src upload.Source, source, objectKey string, cleanup func(bool)) (JobView, error) {
	row := job.UploadJob{
		ID:         uuid.New(),
		UploaderID: uploaderID,
		Filename:   src.Name(),
		MimeType:   src.ContentType(),
		SizeBytes:  src.Size(),
		ChunkSize:  s.cfg.ChunkSize,
		Status:     string(upload.StateNotStarted),
		Source:     source,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}
	if objectKey != "" {
		row.ObjectKey = sql.NullString{String: objectKey, Valid: true}
	}
	if err := s.repo.Create(ctx, &row); err != nil {
		s.release()
		_ = src.Close()
		cleanup(false)
		return JobView{}, err
	}

	rj := &runningJob{id: row.ID, ownerID: uploaderID, cleanup: cleanup, restarted: make(chan struct{}, 1)}
	rj.orch = upload.NewOrchestrator(s.issuer, s.refresher, upload.Options{
		ID:         row.ID.String(),
		ChunkSize:  s.cfg.ChunkSize,
		HTTPClient: s.httpClient,
		Listener:   func(ev upload.Event) { s.onEvent(rj, ev) },
		Logger:     s.log,
	})

	s.mu.Lock()
	s.pending--
	s.jobs[row.ID] = rj
	s.mu.Unlock()
	go s.watch(rj)

	// the transfer outlives the request that started it
	startCtx := context.WithoutCancel(ctx)
	if err := rj.orch.Start(startCtx, src); err != nil {
		s.log.ErrorCtx(ctx, "upload job failed to start", zap.String("job_id", row.ID.String()), zap.Error(err))
		return JobView{}, err
	}
	s.log.InfoCtx(ctx, "upload job started",
		zap.String("job_id", row.ID.String()),
		zap.String("source", source),
		zap.Int64("size", row.SizeBytes),
	)
	return s.view(row, rj), nil
}

func (s *UploadJobService) Pause(ctx context.Context, userID, jobID uuid.UUID) (JobView, error) {
	return s.control(ctx, userID, jobID, func(rj *runningJob) error { return rj.orch.Pause() })
}

// Resume continues a paused job, or restarts one that failed on a network
// error from the offset the ingest endpoint acknowledged.
func (s *UploadJobService) Resume(ctx context.Context, userID, jobID uuid.UUID) (JobView, error) {
	return s.control(ctx, userID, jobID, func(rj *runningJob) error {
		if rj.orch.State() == upload.StateFailed {
			return s.restart(rj)
		}
		return rj.orch.Resume()
	})
}

func (s *UploadJobService) Cancel(ctx context.Context, userID, jobID uuid.UUID) (JobView, error) {
	return s.control(ctx, userID, jobID, func(rj *runningJob) error { return rj.orch.Cancel() })
}

func (s *UploadJobService) control(ctx context.Context, userID, jobID uuid.UUID, op func(*runningJob) error) (JobView, error) {
	rj, err := s.live(userID, jobID)
	if err != nil {
		// a finished job can only be inspected
		if errors.Is(err, volley_errors.ErrNotFound) {
			if _, getErr := s.Get(ctx, userID, jobID); getErr == nil {
				return JobView{}, fmt.Errorf("%w: upload has finished", volley_errors.ErrInvalidTransition)
			}
		}
		return JobView{}, err
	}
	if err := op(rj); err != nil {
		return JobView{}, err
	}
	return s.Get(ctx, userID, jobID)
}

// restart takes a slot back for a parked job and restarts its transfer.
func (s *UploadJobService) restart(rj *runningJob) error {
	s.mu.Lock()
	if !rj.parked {
		s.mu.Unlock()
		return fmt.Errorf("%w: upload is not waiting for a restart", volley_errors.ErrInvalidTransition)
	}
	if s.activeLocked()+s.pending >= s.cfg.MaxJobs {
		s.mu.Unlock()
		return ErrTooManyUploads
	}
	rj.parked = false
	s.mu.Unlock()

	err := rj.orch.Restart()
	if err != nil && !errors.Is(err, upload.ErrCredentialExpired) {
		s.mu.Lock()
		rj.parked = true
		s.mu.Unlock()
		return err
	}
	// wake the watcher; an expired credential ends the job for good
	select {
	case rj.restarted <- struct{}{}:
	default:
	}
	return err
}

// Get returns the job owned by userID. Other users' jobs are reported as missing.
func (s *UploadJobService) Get(ctx context.Context, userID, jobID uuid.UUID) (JobView, error) {
	row, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return JobView{}, err
	}
	if row.UploaderID != userID {
		return JobView{}, volley_errors.ErrNotFound
	}
	s.mu.Lock()
	rj := s.jobs[jobID]
	s.mu.Unlock()
	return s.view(row, rj), nil
}

func (s *UploadJobService) List(ctx context.Context, userID uuid.UUID, limit int) ([]JobView, error) {
	rows, err := s.repo.ListByUploader(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobView, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.view(row, s.jobs[row.ID]))
	}
	return out, nil
}

// RecoverInterrupted fails every job a previous process left active; their
// orchestrators died with it.
func (s *UploadJobService) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warnf("marked %d interrupted upload jobs as failed", n)
	}
	return n, nil
}

// PruneFinished deletes job rows that reached a terminal state more than
// retention ago.
func (s *UploadJobService) PruneFinished(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, volley_errors.NewValidationError("retention", "must be positive")
	}
	n, err := s.repo.DeleteFinishedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Infof("pruned %d finished upload jobs", n)
	}
	return n, nil
}

// Shutdown cancels every live job, gives up on parked ones and waits for
// their bookkeeping to finish.
func (s *UploadJobService) Shutdown(ctx context.Context) {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	live := make([]*runningJob, 0, len(s.jobs))
	for _, rj := range s.jobs {
		live = append(live, rj)
	}
	s.mu.Unlock()

	for _, rj := range live {
		if err := rj.orch.Cancel(); err != nil && !errors.Is(err, volley_errors.ErrInvalidTransition) {
			s.log.Warnf("cancel upload %s: %v", rj.id, err)
		}
	}
	for _, rj := range live {
		if _, err := rj.orch.Wait(ctx); err != nil {
			return
		}
	}
}

func (s *UploadJobService) live(userID, jobID uuid.UUID) (*runningJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[jobID]
	if !ok || rj.ownerID != userID {
		return nil, volley_errors.ErrNotFound
	}
	return rj, nil
}

// reserve claims one of MaxJobs slots for a job about to start. Every
// caller either hands the slot to start or gives it back with release.
// Terminal jobs hold their slot until the watcher removes them; parked ones
// do not.
func (s *UploadJobService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked()+s.pending >= s.cfg.MaxJobs {
		return ErrTooManyUploads
	}
	s.pending++
	return nil
}

func (s *UploadJobService) release() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

func (s *UploadJobService) activeLocked() int {
	n := 0
	for _, rj := range s.jobs {
		if !rj.parked {
			n++
		}
	}
	return n
}

// watch follows the job through every attempt, runs its cleanup and
// forgets it.
func (s *UploadJobService) watch(rj *runningJob) {
	var snap upload.Snapshot
	for {
		snap, _ = rj.orch.Wait(context.Background())
		if !snap.Restartable || !s.park(rj) {
			break
		}
	}

	rj.cleanup(snap.State == upload.StateSucceeded)

	s.mu.Lock()
	delete(s.jobs, rj.id)
	s.mu.Unlock()
}

// park holds a job that failed on a network error until it is restarted,
// the restart window passes or the service shuts down. It reports whether
// the job is running again.
func (s *UploadJobService) park(rj *runningJob) bool {
	s.mu.Lock()
	rj.parked = true
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.RestartWindow)
	defer timer.Stop()

	select {
	case <-rj.restarted:
		return rj.orch.State() != upload.StateFailed || rj.orch.Restartable()
	case <-timer.C:
	case <-s.closing:
	}

	if err := rj.orch.Discard(); err != nil {
		// restarted as the window closed
		return true
	}
	s.log.Infof("upload %s was not restarted and has been discarded", rj.id)
	return false
}

// onEvent runs on the transfer goroutine. It persists the job and forwards
// the event to the owner's channel.
func (s *UploadJobService) onEvent(rj *runningJob, ev upload.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.persist(ctx, rj, ev)

	if s.publisher == nil || s.channel == nil {
		return
	}
	if err := s.publisher.PublishJSON(ctx, s.channel(rj.ownerID.String()), ev); err != nil {
		s.log.Warnf("publish upload event %s for %s: %v", ev.Type, rj.id, err)
	}
}

func (s *UploadJobService) persist(ctx context.Context, rj *runningJob, ev upload.Event) {
	rj.persistMu.Lock()
	defer rj.persistMu.Unlock()

	if ev.VideoID != "" && !rj.videoSaved {
		if err := s.repo.AttachVideo(ctx, rj.id, ev.VideoID); err != nil {
			s.log.Warnf("attach video %s to upload job %s: %v", ev.VideoID, rj.id, err)
		} else {
			rj.videoSaved = true
		}
	}

	var err error
	switch ev.Type {
	case upload.EventState:
		switch ev.State {
		case upload.StateSucceeded:
			err = s.repo.MarkCompleted(ctx, rj.id)
		case upload.StateFailed:
			err = s.repo.MarkFailed(ctx, rj.id, ev.Error)
			rj.rowFailed = err == nil
		case upload.StateTransferring:
			if rj.rowFailed {
				err = s.repo.MarkRestarted(ctx, rj.id, ev.Transferred)
				rj.rowFailed = err != nil
			} else {
				err = s.repo.UpdateProgress(ctx, rj.id, ev.Transferred, string(ev.State))
			}
		case upload.StateCancelled:
			err = s.repo.MarkCancelled(ctx, rj.id)
		default:
			err = s.repo.UpdateProgress(ctx, rj.id, ev.Transferred, string(ev.State))
		}
		rj.lastSaved = s.now()
	case upload.EventProgress:
		if s.now().Sub(rj.lastSaved) < progressPersistInterval && ev.Transferred < ev.Total {
			return
		}
		err = s.repo.UpdateProgress(ctx, rj.id, ev.Transferred, string(ev.State))
		rj.lastSaved = s.now()
	}
	if err != nil {
		s.log.Warnf("persist upload job %s: %v", rj.id, err)
	}
}

func (s *UploadJobService) view(row job.UploadJob, rj *runningJob) JobView {
	v := JobView{
		ID:          row.ID,
		VideoID:     row.VideoID.String,
		FileName:    row.Filename,
		Source:      row.Source,
		State:       row.Status,
		Transferred: row.UploadedBytes,
		Total:       row.SizeBytes,
		Error:       row.Error.String,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		v.CompletedAt = &t
	}
	if rj != nil {
		snap := rj.orch.Snapshot()
		v.Live = !snap.State.Terminal()
		v.Restartable = snap.Restartable
		v.State = string(snap.State)
		v.Transferred = snap.Transferred
		v.Total = snap.Total
		v.UpdatedAt = snap.UpdatedAt
		if snap.VideoID != "" {
			v.VideoID = snap.VideoID
		}
		if snap.Error != "" {
			v.Error = snap.Error
		}
	}
	if v.Total > 0 {
		v.Percent = float64(v.Transferred) * 100 / float64(v.Total)
	}
	return v
}
