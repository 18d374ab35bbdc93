package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"relay/internal/pkg/errs"
	"relay/internal/pkg/randx"
)

const (
	// MaxAvatarSizeMB is the maximum allowed profile image size in megabytes.
	MaxAvatarSizeMB = 2

	// MaxAvatarSize is the maximum allowed profile image size in bytes.
	MaxAvatarSize = MaxAvatarSizeMB * 1024 * 1024

	// PresignedURLDuration is the fixed duration for which the upload URL is valid (5 minutes).
	PresignedURLDuration = 5 * time.Minute

	avatarPrefix = "avatars"
)

// AllowedMIMETypes defines the set of permitted MIME types for profile images.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAvatarSize {
		return errs.NewError(errs.ErrFileSizeTooLarge, MaxAvatarSizeMB)
	}

	return nil
}

// ValidateFileType checks that the MIME type is allowed and agrees with the file extension.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrInvalidParams)
	}

	expectedMIME, ok := ExtToMIME[strings.ToLower(filepath.Ext(fileName))]
	if !ok || expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrInvalidParams)
	}

	return nil
}

// AvatarKey returns a fresh object key for identityID's profile image.
func AvatarKey(identityID, fileName string) (string, error) {
	suffix, err := randx.Base62(10)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("%s/%s/%s%s", avatarPrefix, identityID, suffix, ext), nil
}

// IsAvatarKeyOf reports whether key is a profile image key issued for identityID.
func IsAvatarKeyOf(key, identityID string) bool {
	return strings.HasPrefix(key, avatarPrefix+"/"+identityID+"/")
}
