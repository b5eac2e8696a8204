package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/storage"
)

func pngBytes(size int) []byte {
	header := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if size < len(header) {
		size = len(header)
	}
	return append(header, bytes.Repeat([]byte{0}, size-len(header))...)
}

func newProfileFixture(t *testing.T, limit int64) (*ProfileService, *managerFixture, *storage.LocalStorage) {
	t.Helper()
	f := newManagerFixture(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewProfileService(f.users, store, nil, zap.NewNop(), ProfileConfig{
		MaxAvatarBytes: limit,
		AllowedMIMEs:   []string{"image/png", "image/jpeg"},
	})
	return svc, f, store
}

func TestProfileServiceUpdateStripsMarkup(t *testing.T) {
	svc, f, _ := newProfileFixture(t, 1024)

	profile, err := svc.Update(context.Background(), f.user.ID, models.UpdateProfileRequest{FullName: "<b>Ana</b><script>alert(1)</script>"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", profile.FullName)
	assert.Equal(t, "Ana", f.users.get(f.user.ID).FullName)

	_, err = svc.Update(context.Background(), f.user.ID, models.UpdateProfileRequest{FullName: "<img src=x>"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestProfileServiceAvatarRoundTrip(t *testing.T) {
	svc, f, _ := newProfileFixture(t, 1024)
	ctx := context.Background()
	content := pngBytes(600)

	profile, err := svc.UploadAvatar(ctx, f.user.ID, bytes.NewReader(content), models.ClientMeta{})
	require.NoError(t, err)
	assert.True(t, profile.HasAvatar)
	require.NotNil(t, f.users.get(f.user.ID).AvatarPath)
	assert.Equal(t, f.user.ID+".png", *f.users.get(f.user.ID).AvatarPath)

	download, err := svc.Avatar(ctx, f.user.ID)
	require.NoError(t, err)
	defer download.Content.Close()
	assert.Equal(t, "image/png", download.MimeType)
	assert.Equal(t, int64(len(content)), download.Size)
	got, err := io.ReadAll(download.Content)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestProfileServiceAvatarRejections(t *testing.T) {
	svc, f, _ := newProfileFixture(t, 64)
	ctx := context.Background()

	_, err := svc.UploadAvatar(ctx, f.user.ID, strings.NewReader("just some text, not an image"), models.ClientMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.UploadAvatar(ctx, f.user.ID, bytes.NewReader(nil), models.ClientMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.UploadAvatar(ctx, f.user.ID, bytes.NewReader(pngBytes(200)), models.ClientMeta{})
	assert.ErrorIs(t, err, appErrors.ErrPayloadTooLarge)
	assert.Nil(t, f.users.get(f.user.ID).AvatarPath)

	_, err = svc.Avatar(ctx, f.user.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
