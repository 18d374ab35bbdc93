/*
Package handler provides the HTTP handlers and routing setup for the relay.

This file holds the account endpoints: the proof-of-work challenge that gates registration,
registration itself and login. Both registration and login answer with a signed token.
*/
package handler

import (
	"errors"
	"net/http"

	"relay/internal/app/user"
	"relay/internal/pkg/errs"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/pow"
	"relay/internal/pkg/req"
	"relay/internal/pkg/resp"
)

// HandleChallenge issues a fresh proof-of-work nonce.
func HandleChallenge(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"nonce":      deps.Pow.GenerateNonce(),
			"difficulty": deps.Pow.Difficulty(),
		})
	}
}

type VerifyInput struct {
	Nonce   string `json:"nonce" validate:"required"`
	Counter string `json:"counter" validate:"required"`
}

// HandleVerify trades a solved challenge for a single-use proof token.
func HandleVerify(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input VerifyInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		token, err := deps.Pow.ValidateProof(input.Nonce, input.Counter)
		if err != nil {
			logx.Ctx(r.Context()).Warn().Err(err).Msg("Proof of work rejected.")
			code := errs.ErrPowChallengeInvalid
			if !errors.Is(err, pow.ErrProofTooWeak) && !errors.Is(err, pow.ErrNonceInvalid) && !errors.Is(err, pow.ErrNonceConsumed) {
				code = errs.ErrPowChallengeInternal
			}
			resp.RespondError(w, r, errs.NewError(code))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token":  token,
			"header": pow.TokenHeaderKey,
		})
	}
}

type RegisterInput struct {
	Identifier string       `json:"identifier" validate:"required"`
	Secret     string       `json:"secret" validate:"required"`
	Profile    user.Profile `json:"profile"`
}

// HandleRegister creates a new identity. The request must carry a proof token from HandleVerify.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Pow.ConsumeToken(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
			return
		}

		var input RegisterInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ident, err := deps.Auth.Register(r.Context(), input.Identifier, input.Secret, input.Profile)
		if err != nil {
			logx.Ctx(r.Context()).Warn().Err(err).Str("identifier", input.Identifier).Msg("Registration rejected.")
			resp.RespondDomainError(w, r, err)
			return
		}

		respondWithToken(deps, w, r, ident)
	}
}

type LoginInput struct {
	Identifier string `json:"identifier" validate:"required"`
	Secret     string `json:"secret" validate:"required"`
}

// HandleLogin verifies credentials and issues a token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ident, err := deps.Auth.Verify(r.Context(), input.Identifier, input.Secret)
		if err != nil {
			logx.Ctx(r.Context()).Warn().Err(err).Str("identifier", input.Identifier).Msg("Login rejected.")
			resp.RespondDomainError(w, r, err)
			return
		}

		respondWithToken(deps, w, r, ident)
	}
}

func respondWithToken(deps *AppDeps, w http.ResponseWriter, r *http.Request, ident user.Identity) {
	token, err := deps.issueToken(ident.ID, string(ident.Role))
	if err != nil {
		logx.Error(err, "jwt generation failed", "identity_id", ident.ID)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, r, map[string]any{
		"token": token,
		"user":  ident,
	})
}
