package services

import (
	"context"
	"fmt"
	"strings"

	"volleystat/internal/bunny"
	volley_errors "volleystat/pkg/errors"
	"volleystat/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultPage         = 1
	DefaultItemsPerPage = 100
	MaxItemsPerPage     = 1000
)

// VideoRegistry is the part of the registry client the service needs.
type VideoRegistry interface {
	LibraryID() string
	CreateVideo(ctx context.Context, title string) (bunny.VideoRecord, error)
	ListVideos(ctx context.Context, page, perPage int) (bunny.VideoPage, error)
	GetVideo(ctx context.Context, guid string) (bunny.VideoRecord, error)
	DeleteVideo(ctx context.Context, guid string) error
	IssueUploadCredential(guid string) (bunny.UploadCredential, error)
}

type URLSigner interface {
	Sign(resourcePath, scopePath string) bunny.SignedURL
	Scheme() bunny.TokenScheme
}

type VideoService struct {
	registry  VideoRegistry
	signer    URLSigner
	embedBase string
	log       *logger.Logger
}

func NewVideoService(registry VideoRegistry, signer URLSigner, embedBase string) *VideoService {
	return &VideoService{
		registry:  registry,
		signer:    signer,
		embedBase: strings.TrimRight(embedBase, "/"),
		log:       logger.GetGlobalLogger(),
	}
}

// UploadTarget is what a browser needs to run the tus upload itself.
type UploadTarget struct {
	GUID string `json:"guid"`
	bunny.UploadCredential
}

// ListedVideo is a registry record decorated with short-lived playback URLs.
type ListedVideo struct {
	bunny.VideoRecord
	SignedThumb string `json:"signedThumb"`
	SignedHLS   string `json:"signedHls"`
	EmbedURL    string `json:"embedUrl"`
}

type VideoListing struct {
	TotalItems   int           `json:"totalItems"`
	CurrentPage  int           `json:"currentPage"`
	ItemsPerPage int           `json:"itemsPerPage"`
	Items        []ListedVideo `json:"items"`
}

// CreateUpload creates the video record and signs an upload credential for it.
func (s *VideoService) CreateUpload(ctx context.Context, title string) (UploadTarget, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return UploadTarget{}, volley_errors.NewValidationError("title", "title is required")
	}

	rec, err := s.registry.CreateVideo(ctx, title)
	if err != nil {
		s.log.ErrorCtx(ctx, "create video failed", zap.String("title", title), zap.Error(err))
		return UploadTarget{}, err
	}
	cred, err := s.registry.IssueUploadCredential(rec.GUID)
	if err != nil {
		return UploadTarget{}, err
	}
	s.log.InfoCtx(ctx, "video created", zap.String("video_id", rec.GUID))
	return UploadTarget{GUID: rec.GUID, UploadCredential: cred}, nil
}

// IssueCredential lets the service act as the credential source of a
// server side upload.
func (s *VideoService) IssueCredential(ctx context.Context, title string) (bunny.UploadCredential, error) {
	target, err := s.CreateUpload(ctx, title)
	if err != nil {
		return bunny.UploadCredential{}, err
	}
	return target.UploadCredential, nil
}

// List fetches one page from the registry and signs thumbnail and playlist
// URLs for every item. Nothing here is cached.
func (s *VideoService) List(ctx context.Context, page, perPage int) (VideoListing, error) {
	if page <= 0 {
		page = DefaultPage
	}
	if perPage <= 0 {
		perPage = DefaultItemsPerPage
	}
	if perPage > MaxItemsPerPage {
		return VideoListing{}, volley_errors.NewValidationError("itemsPerPage", fmt.Sprintf("must be at most %d", MaxItemsPerPage))
	}

	res, err := s.registry.ListVideos(ctx, page, perPage)
	if err != nil {
		return VideoListing{}, err
	}

	out := VideoListing{
		TotalItems:   res.TotalItems,
		CurrentPage:  res.CurrentPage,
		ItemsPerPage: res.ItemsPerPage,
		Items:        make([]ListedVideo, 0, len(res.Items)),
	}
	for _, v := range res.Items {
		out.Items = append(out.Items, s.decorate(v))
	}
	return out, nil
}

func (s *VideoService) Get(ctx context.Context, guid string) (ListedVideo, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return ListedVideo{}, volley_errors.NewValidationError("videoId", "videoId is required")
	}
	rec, err := s.registry.GetVideo(ctx, guid)
	if err != nil {
		return ListedVideo{}, err
	}
	return s.decorate(rec), nil
}

// Delete removes the video from the registry. A missing video surfaces as
// the registry's 404.
func (s *VideoService) Delete(ctx context.Context, guid string) error {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return volley_errors.NewValidationError("videoId", "videoId is required")
	}
	if err := s.registry.DeleteVideo(ctx, guid); err != nil {
		s.log.WarnCtx(ctx, "delete video failed", zap.String("video_id", guid), zap.Error(err))
		return err
	}
	s.log.InfoCtx(ctx, "video deleted", zap.String("video_id", guid))
	return nil
}

func (s *VideoService) decorate(v bunny.VideoRecord) ListedVideo {
	lib := s.registry.LibraryID()
	prefix := "/" + lib + "/" + v.GUID + "/"

	// the hex scheme never hashes a scope, so only the base64 one carries it
	scope := ""
	if s.signer.Scheme() == bunny.SchemeSHA256Base64 {
		scope = prefix
	}

	return ListedVideo{
		VideoRecord: v,
		SignedThumb: s.signer.Sign(prefix+"thumbnail.jpg", scope).URL,
		SignedHLS:   s.signer.Sign(prefix+"playlist.m3u8", scope).URL,
		EmbedURL:    s.embedBase + "/" + lib + "/" + v.GUID + "?autoplay=false",
	}
}
