package handler

import (
	"net/http"

	"relay/internal/app/chat"
	"relay/internal/app/user"
	"relay/internal/pkg/auth/jwt"
	"relay/internal/pkg/errs"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/req"
	"relay/internal/pkg/resp"
)

// HandleGetUserProfile returns the caller's identity as currently stored.
func HandleGetUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		ident, err := deps.Registry.Find(r.Context(), payload.ID)
		if err != nil {
			logx.Warn("get_user_profile: lookup failed", "id", payload.ID, "error", err.Error())
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": ident,
		})
	}
}

// HandleUpdateUserProfile replaces the caller's profile and announces it to the room.
func HandleUpdateUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		var input user.Profile
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ident, err := deps.Room.UpdateProfile(r.Context(), chat.ByIdentity(payload.ID), input)
		if err != nil {
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": ident,
		})
	}
}

type RenameInput struct {
	NewID string `json:"newId" validate:"required"`
}

// HandleRename changes the caller's identifier. The old token names an identity that no
// longer exists, so a new one is returned.
func HandleRename(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		var input RenameInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		renamed, err := deps.Room.Rename(r.Context(), chat.ByIdentity(payload.ID), input.NewID)
		if renamed.ID == "" {
			resp.RespondDomainError(w, r, err)
			return
		}
		if err != nil {
			logx.Error(err, "rename: history rewrite failed", "old_id", payload.ID, "new_id", renamed.ID)
		}

		token, err := deps.issueToken(renamed.ID, string(renamed.Role))
		if err != nil {
			logx.Error(err, "rename: token generation failed", "identity_id", renamed.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token": token,
			"user":  renamed,
		})
	}
}
