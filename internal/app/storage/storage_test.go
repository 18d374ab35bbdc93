package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"relay/internal/pkg/errs"
)

func TestValidateFileType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		mime     string
		ok       bool
	}{
		{"png", "me.png", "image/png", true},
		{"uppercase", "ME.JPG", "IMAGE/JPEG", true},
		{"jpeg alias", "me.jpeg", "image/jpeg", true},
		{"mismatch", "me.png", "image/jpeg", false},
		{"not an image", "me.pdf", "application/pdf", false},
		{"no extension", "me", "image/png", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileType(tt.fileName, tt.mime)
			if tt.ok {
				require.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			require.Equal(t, errs.ErrInvalidParams, err.Code)
		})
	}
}

func TestValidateFileSize(t *testing.T) {
	req := require.New(t)
	req.Nil(ValidateFileSize(1024))
	req.Equal(errs.ErrInvalidParams, ValidateFileSize(0).Code)

	tooLarge := ValidateFileSize(MaxAvatarSize + 1)
	req.Equal(errs.ErrFileSizeTooLarge, tooLarge.Code)
	req.Contains(tooLarge.Message, "2")
}

func TestAvatarKey(t *testing.T) {
	req := require.New(t)
	key, err := AvatarKey("alice", "Me.PNG")
	req.NoError(err)
	req.True(strings.HasPrefix(key, "avatars/alice/"))
	req.True(strings.HasSuffix(key, ".png"))
	req.True(IsAvatarKeyOf(key, "alice"))
	req.False(IsAvatarKeyOf(key, "bob"))
}

func TestPresignUpload(t *testing.T) {
	req := require.New(t)
	svc, err := NewStorageService(context.Background(), ServiceConfig{
		S3BucketName:      "relay-avatars",
		S3Endpoint:        "http://localhost:9000",
		S3AccessKeyID:     "test-key",
		S3SecretAccessKey: "test-secret",
	})
	req.NoError(err)

	raw, err := svc.PresignUpload(context.Background(), "avatars/alice/abc.png", "image/png", 1024, PresignedURLDuration)
	req.NoError(err)

	u, err := url.Parse(raw)
	req.NoError(err)
	req.Equal("localhost:9000", u.Host)
	req.Equal("/relay-avatars/avatars/alice/abc.png", u.Path)
	req.NotEmpty(u.Query().Get("X-Amz-Signature"))
	req.Equal("300", u.Query().Get("X-Amz-Expires"))

	req.Equal("http://localhost:9000/relay-avatars/avatars/alice/abc.png", svc.ObjectURL("avatars/alice/abc.png"))
}
