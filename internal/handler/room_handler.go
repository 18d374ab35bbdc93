/*
Package handler provides the HTTP handlers and routing setup for the relay.

This file exposes the room over REST: recent messages, posting, the presence roster and
moderation. Every request acts as the identity named by its token.
*/
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"relay/internal/app/chat"
	"relay/internal/app/user"
	"relay/internal/pkg/auth/jwt"
	"relay/internal/pkg/errs"
	"relay/internal/pkg/req"
	"relay/internal/pkg/resp"
)

// HandleRecentMessages returns up to ?limit messages visible to the caller.
func HandleRecentMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = n
		}

		msgs, err := deps.Room.Recent(r.Context(), chat.ByIdentity(payload.ID), limit)
		if err != nil {
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"messages": msgs,
		})
	}
}

// HandlePostMessage appends a message through the same path websocket text frames use.
func HandlePostMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		var input chat.SendInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msg, err := deps.Room.Send(r.Context(), chat.ByIdentity(payload.ID), input)
		if err != nil {
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"message": msg,
		})
	}
}

// HandlePresence returns the roster of connected identities.
func HandlePresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roster, err := deps.Room.Roster(r.Context())
		if err != nil {
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presence": roster,
		})
	}
}

// ModerationInput is the body of a moderation call; the action comes from the path.
type ModerationInput struct {
	Target          string    `json:"target"`
	DurationSeconds int       `json:"durationSeconds" validate:"gte=0"`
	Indefinite      bool      `json:"indefinite"`
	Role            user.Role `json:"role"`
}

// HandleModerate applies /api/moderation/{action} as the caller.
func HandleModerate(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		var input ModerationInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		res, err := deps.Room.Moderate(r.Context(), chat.ByIdentity(payload.ID), chat.ModerationRequest{
			Action:          chat.Action(chi.URLParam(r, "action")),
			Target:          input.Target,
			DurationSeconds: input.DurationSeconds,
			Indefinite:      input.Indefinite,
			Role:            input.Role,
		})
		if err != nil {
			resp.RespondDomainError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, res)
	}
}
