package handler

import (
	"net/http"

	"relay/internal/app/storage"
	"relay/internal/pkg/auth/jwt"
	"relay/internal/pkg/errs"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/req"
	"relay/internal/pkg/resp"
)

// PresignAvatarInput defines the JSON input structure for generating an avatar upload URL.
type PresignAvatarInput struct {
	FileName string `json:"fileName" validate:"required"`
	MimeType string `json:"mimeType" validate:"required"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignAvatarURL returns a time-limited URL the client PUTs its profile image to,
// plus the public URL to store as the profile's display image afterwards.
func HandlePresignAvatarURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Storage == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}
		payload := jwt.GetPayloadFromContext(r)

		var input PresignAvatarInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := storage.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := storage.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		key, err := storage.AvatarKey(payload.ID, input.FileName)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		url, err := deps.Storage.PresignUpload(r.Context(), key, input.MimeType, input.FileSize, storage.PresignedURLDuration)
		if err != nil {
			logx.Error(err, "avatar presign failed", "identity_id", payload.ID)
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"fileKey":      key,
			"publicUrl":    deps.Storage.ObjectURL(key),
		})
	}
}

type DeleteAvatarInput struct {
	FileKey string `json:"fileKey" validate:"required"`
}

// HandleDeleteAvatar removes one of the caller's previously uploaded images.
func HandleDeleteAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Storage == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}
		payload := jwt.GetPayloadFromContext(r)

		var input DeleteAvatarInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !storage.IsAvatarKeyOf(input.FileKey, payload.ID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrForbidden))
			return
		}

		if err := deps.Storage.Delete(r.Context(), input.FileKey); err != nil {
			logx.Error(err, "avatar delete failed", "identity_id", payload.ID, "key", input.FileKey)
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}
