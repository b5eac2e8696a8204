package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

const avatarFormField = "avatar"

type profileService interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	Update(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.Profile, error)
	UploadAvatar(ctx context.Context, userID string, r io.Reader, meta models.ClientMeta) (*models.Profile, error)
	Avatar(ctx context.Context, userID string) (*service.AvatarDownload, error)
}

// ProfileHandler serves the caller's own profile.
type ProfileHandler struct {
	service  profileService
	maxBytes int64
}

// NewProfileHandler creates a profile handler. maxBytes caps the multipart body.
func NewProfileHandler(svc profileService, maxBytes int64) *ProfileHandler {
	return &ProfileHandler{service: svc, maxBytes: maxBytes}
}

// Get godoc
// @Summary Get my profile
// @Tags Profile
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /profile [get]
func (h *ProfileHandler) Get(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	profile, err := h.service.Get(c.Request.Context(), identity.UserID())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Update godoc
// @Summary Update my profile
// @Tags Profile
// @Accept json
// @Produce json
// @Param payload body models.UpdateProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /profile [put]
func (h *ProfileHandler) Update(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	profile, err := h.service.Update(c.Request.Context(), identity.UserID(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// UploadAvatar godoc
// @Summary Upload avatar
// @Tags Profile
// @Accept multipart/form-data
// @Produce json
// @Param avatar formData file true "Avatar image"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /profile/avatar [post]
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	if h.maxBytes > 0 {
		// room for multipart framing around the file itself
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+64*1024)
	}

	fileHeader, err := c.FormFile(avatarFormField)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "avatar file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read upload"))
		return
	}
	defer file.Close()

	profile, err := h.service.UploadAvatar(c.Request.Context(), identity.UserID(), file, middleware.ClientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Avatar godoc
// @Summary Download my avatar
// @Tags Profile
// @Produce octet-stream
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /profile/avatar [get]
func (h *ProfileHandler) Avatar(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	download, err := h.service.Avatar(c.Request.Context(), identity.UserID())
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Content.Close()

	c.Header("Cache-Control", "private, max-age=300")
	c.Header("Last-Modified", download.ModTime.UTC().Format(http.TimeFormat))
	c.DataFromReader(http.StatusOK, download.Size, download.MimeType, download.Content, map[string]string{
		"Content-Length": strconv.FormatInt(download.Size, 10),
	})
}
