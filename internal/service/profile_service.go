package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/storage"
)

const sniffLength = 512

type profileRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id, fullName string, updatedAt time.Time) error
	UpdateAvatar(ctx context.Context, id string, path *string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type avatarStorage interface {
	SaveStream(filename string, r io.Reader, limit int64) (int64, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// ProfileConfig bounds avatar uploads.
type ProfileConfig struct {
	MaxAvatarBytes int64
	AllowedMIMEs   []string
	StoreTimeout   time.Duration
}

// AvatarDownload is an open avatar ready to stream.
type AvatarDownload struct {
	Content  io.ReadCloser
	MimeType string
	Size     int64
	ModTime  time.Time
}

// ProfileService lets users manage their own display name and avatar.
type ProfileService struct {
	repo      profileRepository
	storage   avatarStorage
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	cfg       ProfileConfig
	mimeSet   map[string]string
	now       func() time.Time
}

// NewProfileService creates an instance of ProfileService.
func NewProfileService(repo profileRepository, store avatarStorage, validate *validator.Validate, logger *zap.Logger, cfg ProfileConfig) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxAvatarBytes <= 0 {
		cfg.MaxAvatarBytes = 2 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}
	}
	mimeSet := make(map[string]string, len(cfg.AllowedMIMEs))
	for _, mime := range cfg.AllowedMIMEs {
		mime = strings.ToLower(strings.TrimSpace(mime))
		if ext := mimeExtension(mime); ext != "" {
			mimeSet[mime] = ext
		}
	}
	return &ProfileService{
		repo:      repo,
		storage:   store,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		cfg:       cfg,
		mimeSet:   mimeSet,
		now:       time.Now,
	}
}

// Get returns the caller's profile.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toProfile(user), nil
}

// Update changes the caller's display name. Markup is stripped before storage.
func (s *ProfileService) Update(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.Profile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	name := strings.TrimSpace(s.sanitizer.Sanitize(req.FullName))
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "full name is required")
	}

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	err = s.repo.UpdateProfile(sctx, userID, name, now)
	cancel()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update profile")
	}

	user.FullName = name
	user.UpdatedAt = now
	return toProfile(user), nil
}

// UploadAvatar stores r as the caller's avatar after sniffing its content type.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID string, r io.Reader, meta models.ClientMeta) (*models.Profile, error) {
	if r == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file reader missing")
	}
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	header := make([]byte, sniffLength)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Internal(err, "failed to inspect file")
	}
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	mime := strings.ToLower(strings.SplitN(http.DetectContentType(header[:n]), ";", 2)[0])
	ext, allowed := s.mimeSet[mime]
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}

	filename := user.ID + ext
	content := io.MultiReader(bytes.NewReader(header[:n]), r)
	if _, err := s.storage.SaveStream(filename, content, s.cfg.MaxAvatarBytes); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxAvatarBytes))
		}
		return nil, appErrors.Internal(err, "failed to store avatar")
	}

	now := s.now().UTC()
	sctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	err = s.repo.UpdateAvatar(sctx, user.ID, &filename, now)
	cancel()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to record avatar")
	}

	if user.HasAvatar() && *user.AvatarPath != filename {
		if err := s.storage.Delete(*user.AvatarPath); err != nil {
			s.logger.Warn("failed to remove previous avatar", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionAvatarUpdate, models.AuditResourceUsers, user.ID, meta, nil,
		map[string]interface{}{"mime_type": mime}))

	user.AvatarPath = &filename
	user.UpdatedAt = now
	return toProfile(user), nil
}

// Avatar opens the stored avatar of userID.
func (s *ProfileService) Avatar(ctx context.Context, userID string) (*AvatarDownload, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasAvatar() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "avatar not found")
	}

	file, err := s.storage.Open(*user.AvatarPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "avatar not found")
		}
		return nil, appErrors.Internal(err, "failed to open avatar")
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, appErrors.Internal(err, "failed to stat avatar")
	}

	return &AvatarDownload{
		Content:  file,
		MimeType: extensionMime(*user.AvatarPath),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

func (s *ProfileService) load(ctx context.Context, userID string) (*models.User, error) {
	sctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()
	user, err := s.repo.FindByID(sctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

func toProfile(u *models.User) *models.Profile {
	return &models.Profile{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Roles:     u.Roles,
		HasAvatar: u.HasAvatar(),
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}

func mimeExtension(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func extensionMime(name string) string {
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".jpg"):
		return "image/jpeg"
	case strings.HasSuffix(name, ".gif"):
		return "image/gif"
	case strings.HasSuffix(name, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
