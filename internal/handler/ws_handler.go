/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, upgrading
the HTTP connection to WebSocket, and initiating the client lifecycle. A connection that carries a
valid token joins immediately; otherwise the client must send a join frame with its credentials.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"relay/internal/app/chat"
	"relay/internal/pkg/auth/jwt"
	"relay/internal/pkg/errs"
	"relay/internal/pkg/limiter"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/randx"
	"relay/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		handle, err := randx.ConnectionHandle()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Room, conn, handle)

		go client.WritePump()

		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			if err := client.JoinIdentity(r.Context(), payload.ID); err != nil {
				logx.Info("WebSocket token join rejected.", "identity_id", payload.ID, "error", err.Error())
				client.SendError(err)
			}
		}

		logx.Info("WebSocket connection established", "handle", handle)

		client.ReadPump(r.Context())
	}
}
