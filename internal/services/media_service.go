package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"
	"fixit/internal/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FileInput is one uploaded file as received by a handler.
type FileInput struct {
	Filename string
	Reader   io.Reader
}

// MediaHandle describes a stored blob before it is attached to an owner.
type MediaHandle struct {
	PublicID string
	URL      string
	MimeType string
	Filename string
	Size     int64
}

// MediaRegistry stores blobs and keeps media rows pointing at them.
type MediaRegistry interface {
	// Upload validates and stores one file under folder.
	Upload(ctx context.Context, file FileInput, folder string) (*MediaHandle, error)
	// Attach creates the media row for handle inside the caller's transaction.
	Attach(ctx context.Context, repos *repositories.Repositories, handle *MediaHandle, kind models.ContextKind, ownerID uuid.UUID, uploadedBy *uuid.UUID, isPublic bool) (*models.Media, error)
	// Release deletes the blob once no media row references it.
	Release(ctx context.Context, publicID string)
	// Resolve refreshes the URLs of rows read back from storage.
	Resolve(ctx context.Context, items []*models.Media)
}

type mediaService struct {
	store   repositories.Store
	blobs   storage.BlobStore
	logger  *logrus.Logger
	clock   func() time.Time
	limit   int64
	timeout time.Duration
	urlTTL  time.Duration
}

func NewMediaService(store repositories.Store, blobs storage.BlobStore, maxBytes int64, timeout time.Duration, logger *logrus.Logger, clock func() time.Time) MediaRegistry {
	if clock == nil {
		clock = time.Now
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &mediaService{
		store:   store,
		blobs:   blobs,
		logger:  logger,
		clock:   clock,
		limit:   maxBytes,
		timeout: timeout,
		urlTTL:  24 * time.Hour,
	}
}

func allowedMime(m *mimetype.MIME) bool {
	for mt := m; mt != nil; mt = mt.Parent() {
		s := mt.String()
		if strings.HasPrefix(s, "image/") || strings.HasPrefix(s, "video/") || mt.Is("application/pdf") {
			return true
		}
	}
	return false
}

func (s *mediaService) Upload(ctx context.Context, file FileInput, folder string) (*MediaHandle, error) {
	data, err := io.ReadAll(io.LimitReader(file.Reader, s.limit+1))
	if err != nil {
		return nil, common.Validation("could not read upload", common.FieldError{Field: "files", Reason: err.Error()})
	}
	if int64(len(data)) > s.limit {
		return nil, common.Validation(fmt.Sprintf("%s exceeds the %d byte upload limit", file.Filename, s.limit),
			common.FieldError{Field: "files", Reason: "too large"})
	}
	if len(data) == 0 {
		return nil, common.Validation(file.Filename+" is empty", common.FieldError{Field: "files", Reason: "empty"})
	}
	mt := mimetype.Detect(data)
	if !allowedMime(mt) {
		return nil, common.Validation(fmt.Sprintf("%s has unsupported type %s", file.Filename, mt.String()),
			common.FieldError{Field: "files", Reason: "unsupported type"})
	}

	key := path.Join(folder, uuid.NewString()+mt.Extension())
	putCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.blobs.Put(putCtx, key, bytes.NewReader(data), int64(len(data)), mt.String()); err != nil {
		return nil, common.External("media storage unavailable", err)
	}
	url, err := s.blobs.URL(ctx, key, s.urlTTL)
	if err != nil {
		s.deleteBlob(ctx, key)
		return nil, common.External("media storage unavailable", err)
	}

	name := strings.TrimSpace(path.Base(file.Filename))
	if name == "" || name == "." || name == "/" {
		name = path.Base(key)
	}
	return &MediaHandle{
		PublicID: key,
		URL:      url,
		MimeType: mt.String(),
		Filename: name,
		Size:     int64(len(data)),
	}, nil
}

func (s *mediaService) Attach(ctx context.Context, repos *repositories.Repositories, handle *MediaHandle, kind models.ContextKind, ownerID uuid.UUID, uploadedBy *uuid.UUID, isPublic bool) (*models.Media, error) {
	m := &models.Media{
		ID:         uuid.New(),
		Filename:   handle.Filename,
		MimeType:   handle.MimeType,
		Size:       handle.Size,
		URL:        handle.URL,
		PublicID:   handle.PublicID,
		UploadedBy: uploadedBy,
		OwnerKind:  kind,
		OwnerID:    ownerID,
		Tags:       []string{},
		IsPublic:   isPublic,
		CreatedAt:  s.clock().UTC(),
	}
	if err := repos.Media.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *mediaService) Release(ctx context.Context, publicID string) {
	n, err := s.store.Repos().Media.CountByPublicID(ctx, publicID)
	if err != nil {
		s.logger.WithError(err).WithField("public_id", publicID).Warn("could not count media references")
		return
	}
	if n > 0 {
		return
	}
	s.deleteBlob(ctx, publicID)
}

func (s *mediaService) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.WithError(err).WithField("public_id", key).Warn("failed to delete blob")
	}
}

func (s *mediaService) Resolve(ctx context.Context, items []*models.Media) {
	for _, m := range items {
		url, err := s.blobs.URL(ctx, m.PublicID, s.urlTTL)
		if err != nil {
			s.logger.WithError(err).WithField("public_id", m.PublicID).Debug("keeping stored media url")
			continue
		}
		m.URL = url
	}
}

// releaseAll hands every public id back to the registry after a failed or
// deleting transaction.
func releaseAll(ctx context.Context, registry MediaRegistry, publicIDs []string) {
	for _, id := range publicIDs {
		registry.Release(ctx, id)
	}
}

func handleIDs(handles []*MediaHandle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = h.PublicID
	}
	return out
}

func mediaIDs(items []*models.Media) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.PublicID
	}
	return out
}

// uploadAll stores every file or none of them.
func uploadAll(ctx context.Context, registry MediaRegistry, files []FileInput, folder string) ([]*MediaHandle, error) {
	handles := make([]*MediaHandle, 0, len(files))
	for _, f := range files {
		h, err := registry.Upload(ctx, f, folder)
		if err != nil {
			releaseAll(ctx, registry, handleIDs(handles))
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}
