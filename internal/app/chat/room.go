/*
Package chat contains the real-time core of the relay.

This file defines the Room, the single owner of every piece of mutable chat state. All mutations
(joins, leaves, heartbeats, sends, renames, moderation, liveness sweeps, responder replies) are
funnelled through one event loop and run one at a time, so the components it owns need no locking
of their own beyond what concurrent readers require.
*/
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relay/internal/app/identity"
	"relay/internal/app/responder"
	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/pkg/censor"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/otelx"
)

const (
	// DefaultSweepInterval is how often the loop scans for silent sessions.
	DefaultSweepInterval = 15 * time.Second

	// DefaultMaxContentBytes bounds a message body.
	DefaultMaxContentBytes = 2000

	jobQueueSize = 256
)

// Config holds the room's tunables.
type Config struct {
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	Retention       int
	RecentWindow    int
	MaxContentBytes int
	ModeratorRoles  []user.Role

	// BotTrigger is the case-insensitive phrase that asks the responder for a reply.
	BotTrigger string
	BotID      string
}

// Deps are the room's collaborators. Responder and Censor are optional.
type Deps struct {
	Store     store.Store
	Registry  *identity.Registry
	Auth      identity.AuthProvider
	Responder responder.Responder
	Censor    *censor.Censor

	// Now defaults to time.Now.
	Now func() time.Time
}

// Principal names who performs an operation: a live websocket session by handle,
// or an identity authenticated out of band (REST, by token).
type Principal struct {
	Handle     string
	IdentityID string
}

// ByHandle is the principal of a live session.
func ByHandle(handle string) Principal { return Principal{Handle: handle} }

// ByIdentity is the principal of a token-authenticated request.
func ByIdentity(id string) Principal { return Principal{IdentityID: user.NormalizeID(id)} }

// SendInput is one outbound chat message.
type SendInput struct {
	Body       string `json:"content"`
	Restricted bool   `json:"restricted"`
	TempID     string `json:"tempId,omitempty"`
}

// ModerationRequest is one privileged action.
type ModerationRequest struct {
	Action          Action    `json:"action" validate:"required"`
	Target          string    `json:"target"`
	DurationSeconds int       `json:"durationSeconds" validate:"gte=0"`
	Indefinite      bool      `json:"indefinite"`
	Role            user.Role `json:"role"`
}

// ModerationResult is returned to the actor only.
type ModerationResult struct {
	Action  Action         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Removed int            `json:"removed,omitempty"`
	Subject *user.Identity `json:"subject,omitempty"`
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Room is the shared chat room.
type Room struct {
	cfg       Config
	registry  *identity.Registry
	sessions  *SessionTable
	tracker   *PresenceTracker
	log       *MessageLog
	bc        *Broadcaster
	gate      *Gate
	responder responder.Responder
	censor    *censor.Censor
	now       func() time.Time

	jobs     chan job
	stopChan chan struct{}
	done     chan struct{}

	// epoch advances on every history purge; responder replies started in an older epoch are dropped.
	epoch   uint64
	taskCtx context.Context

	logger zerolog.Logger
	tracer trace.Tracer
}

// NewRoom wires the room's components. Run must be called to start processing.
func NewRoom(cfg Config, deps Deps) *Room {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultMaxContentBytes
	}

	sessions := NewSessionTable(now)
	log := NewMessageLog(deps.Store, cfg.Retention, cfg.RecentWindow, now)
	bc := NewBroadcaster()

	return &Room{
		cfg:       cfg,
		registry:  deps.Registry,
		sessions:  sessions,
		tracker:   NewPresenceTracker(sessions, deps.Registry, deps.Auth, log, cfg.LivenessTimeout, now),
		log:       log,
		bc:        bc,
		gate:      NewGate(deps.Registry, log, bc, cfg.ModeratorRoles, now),
		responder: deps.Responder,
		censor:    deps.Censor,
		now:       now,
		jobs:      make(chan job, jobQueueSize),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		taskCtx:   context.Background(),
		logger:    logx.Component("room"),
		tracer:    otelx.Tracer("relay/chat"),
	}
}

// IsStaff reports whether role may moderate and read restricted messages.
func (r *Room) IsStaff(role user.Role) bool { return r.gate.IsStaff(role) }

// Stop signals Run to return.
func (r *Room) Stop() {
	r.logger.Info().Msg("Received stop signal. Stopping room.")

	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
}

// Done is closed once Run has returned.
func (r *Room) Done() <-chan struct{} { return r.done }

// Run loads history and processes events until ctx is cancelled or Stop is called.
// On return every observer has been closed and later operations fail with ErrRoomClosed.
func (r *Room) Run(ctx context.Context) error {
	defer close(r.done)

	if err := r.log.Load(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if r.responder != nil && r.cfg.BotID != "" {
		if _, err := r.registry.EnsureSystem(ctx, r.cfg.BotID, user.RoleBot); err != nil {
			return fmt.Errorf("ensure bot identity: %w", err)
		}
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	r.taskCtx = taskCtx
	defer cancelTasks()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("sweep_interval", r.cfg.SweepInterval).
		Dur("liveness_timeout", r.tracker.Timeout()).
		Int("history", r.log.Len()).
		Msg("Room loop started.")

	for {
		select {
		case j := <-r.jobs:
			j.fn(j.ctx)
			close(j.done)

		case <-ticker.C:
			r.sweep()

		case <-ctx.Done():
			r.shutdown()
			return nil

		case <-r.stopChan:
			r.shutdown()
			return nil
		}
	}
}

func (r *Room) shutdown() {
	r.logger.Info().Int("observers", r.bc.Len()).Msg("Room loop stopping. Closing observers.")
	r.bc.CloseAll(websocket.CloseGoingAway, "Server is shutting down.")
}

// do runs fn on the loop and waits for it to finish.
func (r *Room) do(ctx context.Context, fn func(ctx context.Context)) error {
	j := job{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case r.jobs <- j:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-j.done:
		return nil
	case <-r.done:
		return ErrRoomClosed
	}
}

// call is do for functions with a result.
func call[T any](ctx context.Context, r *Room, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if derr := r.do(ctx, func(ctx context.Context) { out, err = fn(ctx) }); derr != nil {
		return out, derr
	}
	return out, err
}

// Join authenticates id/secret and admits obs. Credentials are checked before the loop is
// involved; if obs went away in the meantime nothing is registered.
func (r *Room) Join(ctx context.Context, obs Observer, id, secret string) (JoinedPayload, error) {
	ctx, span := r.tracer.Start(ctx, "chat.join", trace.WithAttributes(attribute.String("handle", obs.Handle())))
	defer span.End()

	ident, err := r.tracker.Authenticate(ctx, id, secret)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JoinedPayload{}, err
	}
	return call(ctx, r, func(ctx context.Context) (JoinedPayload, error) { return r.admit(ctx, obs, ident.ID) })
}

// JoinIdentity admits obs for an identity already authenticated by token.
func (r *Room) JoinIdentity(ctx context.Context, obs Observer, id string) (JoinedPayload, error) {
	return call(ctx, r, func(ctx context.Context) (JoinedPayload, error) { return r.admit(ctx, obs, id) })
}

// admit reads the identity on the loop so a kick or rename committed after authentication applies.
func (r *Room) admit(ctx context.Context, obs Observer, id string) (JoinedPayload, error) {
	select {
	case <-obs.Done():
		return JoinedPayload{}, ErrConnectionGone
	default:
	}

	ident, err := r.registry.Find(ctx, id)
	if err != nil {
		return JoinedPayload{}, err
	}

	if old, ok := r.sessions.ByIdentity(ident.ID); ok && !ident.Kicked {
		r.logger.Warn().
			Str("identity_id", ident.ID).
			Str("old_handle", old.Handle).
			Str("handle", obs.Handle()).
			Msg("Identity already connected. Closing old connection for replacement.")

		r.sessions.Remove(old.Handle)
		if o, ok := r.bc.Detach(old.Handle); ok {
			o.Close(CloseSessionReplaced, "Session replaced by new connection. Check other tabs.")
		}
	}

	sess, err := r.tracker.Admit(obs.Handle(), ident)
	if err != nil {
		return JoinedPayload{}, err
	}
	r.bc.Attach(obs)

	joined := r.tracker.Joined(sess, r.gate.IsStaff(ident.Role))
	if err := obs.Deliver(NewEvent(TypeJoined, r.now(), joined)); err != nil {
		r.drop(obs.Handle(), CloseSlowConsumer, "delivery failed")
		return JoinedPayload{}, ErrConnectionGone
	}

	r.logger.Info().
		Str("identity_id", ident.ID).
		Str("handle", obs.Handle()).
		Int("online", r.sessions.Len()).
		Msg("Session joined room.")

	r.bc.PublishWhere(NewEvent(TypePresenceChanged, r.now(), joined.Self), func(h string) bool {
		return h != obs.Handle()
	})
	return joined, nil
}

// Heartbeat records a liveness signal for handle.
func (r *Room) Heartbeat(ctx context.Context, handle string) error {
	return r.do(ctx, func(context.Context) { r.tracker.OnHeartbeat(handle) })
}

// Leave handles a closed connection. Unknown or replaced handles are ignored.
func (r *Room) Leave(ctx context.Context, handle string) error {
	return r.do(ctx, func(context.Context) { r.drop(handle, 0, "") })
}

// Logout ends handle's session and closes its connection normally.
func (r *Room) Logout(ctx context.Context, handle string) error {
	return r.do(ctx, func(context.Context) {
		r.drop(handle, websocket.CloseNormalClosure, "Logged out.")
	})
}

// drop removes handle's session, closes its observer when code is set and announces it offline.
func (r *Room) drop(handle string, code int, reason string) {
	if o, ok := r.bc.Detach(handle); ok && code != 0 {
		o.Close(code, reason)
	}
	snap, ok := r.tracker.OnDisconnect(handle)
	if !ok {
		return
	}

	r.logger.Info().
		Str("identity_id", snap.IdentityID).
		Str("handle", handle).
		Int("online", r.sessions.Len()).
		Msg("Session left room.")

	r.bc.Publish(NewEvent(TypePresenceChanged, r.now(), snap))
}

// Sweep runs a liveness sweep now.
func (r *Room) Sweep(ctx context.Context) error {
	return r.do(ctx, func(context.Context) { r.sweep() })
}

func (r *Room) sweep() {
	for _, s := range r.tracker.Sweep() {
		r.logger.Info().
			Str("identity_id", s.Identity.ID).
			Str("handle", s.Handle).
			Time("last_liveness", s.LastLiveness).
			Msg("Session timed out.")

		if o, ok := r.bc.Detach(s.Handle); ok {
			o.Close(CloseLivenessTimeout, "Liveness timeout.")
		}
		r.bc.Publish(NewEvent(TypePresenceChanged, r.now(), Offline(s.Identity)))
	}
}

// resolve returns the acting identity and, for websocket principals, its handle.
func (r *Room) resolve(ctx context.Context, p Principal) (user.Identity, string, error) {
	if p.Handle != "" {
		s, ok := r.sessions.Get(p.Handle)
		if !ok {
			return user.Identity{}, "", ErrSessionNotFound
		}
		return s.Identity, s.Handle, nil
	}
	ident, err := r.registry.Find(ctx, p.IdentityID)
	if err != nil {
		return user.Identity{}, "", err
	}
	if s, ok := r.sessions.ByIdentity(ident.ID); ok {
		return ident, s.Handle, nil
	}
	return ident, "", nil
}

// Send validates, admits and appends a message, then fans it out.
func (r *Room) Send(ctx context.Context, p Principal, in SendInput) (store.Message, error) {
	ctx, span := r.tracer.Start(ctx, "chat.send")
	defer span.End()

	body := strings.TrimSpace(in.Body)
	if body == "" || len(body) > r.cfg.MaxContentBytes {
		return store.Message{}, ErrInvalidMessage
	}

	msg, err := call(ctx, r, func(ctx context.Context) (store.Message, error) {
		return r.send(ctx, p, body, in)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (r *Room) send(ctx context.Context, p Principal, body string, in SendInput) (store.Message, error) {
	ident, handle, err := r.resolve(ctx, p)
	if err != nil {
		return store.Message{}, err
	}

	admitted, err := r.gate.AdmitSend(ctx, ident)
	if err != nil {
		return store.Message{}, err
	}
	if ident.Mute.Set() && !admitted.Mute.Set() {
		r.sessions.Refresh(admitted)
	}

	vis := store.VisibilityPublic
	if in.Restricted {
		if !r.gate.IsStaff(admitted.Role) {
			return store.Message{}, fmt.Errorf("restricted message by %s: %w", admitted.ID, ErrForbidden)
		}
		vis = store.VisibilityRestricted
	}

	msg, err := r.log.Append(ctx, store.Message{
		AuthorID:     admitted.ID,
		AuthorRole:   admitted.Role,
		AuthorAvatar: admitted.Profile.DisplayImage,
		Body:         r.censor.Apply(body),
		Visibility:   vis,
	})
	if err != nil {
		return store.Message{}, err
	}

	if in.TempID != "" && handle != "" {
		ack := AckPayload{TempID: in.TempID, ID: msg.ID, Timestamp: msg.CreatedAt.UnixMilli()}
		r.bc.PublishTo(NewEvent(TypeAck, r.now(), ack), handle)
	}
	r.publishMessage(msg)

	if r.triggered(msg) {
		r.spawnReply(handle, msg)
	}
	return msg, nil
}

// publishMessage delivers restricted messages to staff sessions only.
func (r *Room) publishMessage(m store.Message) {
	ev := NewEvent(TypeMessagePosted, r.now(), m)
	if m.Visibility != store.VisibilityRestricted {
		r.bc.Publish(ev)
		return
	}
	r.bc.PublishWhere(ev, func(h string) bool {
		s, ok := r.sessions.Get(h)
		return ok && r.gate.IsStaff(s.Identity.Role)
	})
}

func (r *Room) triggered(m store.Message) bool {
	if r.responder == nil || r.cfg.BotTrigger == "" || m.Visibility == store.VisibilityRestricted {
		return false
	}
	if m.AuthorID == user.NormalizeID(r.cfg.BotID) {
		return false
	}
	return strings.Contains(strings.ToLower(m.Body), strings.ToLower(r.cfg.BotTrigger))
}

// spawnReply asks the responder for a reply off the loop. The reply is posted only if the
// triggering session is still connected and the history has not been purged since.
func (r *Room) spawnReply(handle string, trigger store.Message) {
	epoch := r.epoch
	window := lo.Reject(r.log.RecentVisible(0, false), func(m store.Message, _ int) bool { return m.ID == trigger.ID })
	ctx := r.taskCtx
	logger := r.logger.With().Str("trigger_id", trigger.ID).Str("author", trigger.AuthorID).Logger()

	go func() {
		ctx, span := r.tracer.Start(ctx, "responder.generate")
		defer span.End()

		reply, err := r.responder.Generate(ctx, trigger.Body, window)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			logger.Warn().Err(err).Msg("Responder failed.")
		}
		if reply == "" {
			return
		}

		if err := r.do(ctx, func(ctx context.Context) { r.postReply(ctx, handle, epoch, reply, logger) }); err != nil {
			logger.Debug().Err(err).Msg("Responder reply dropped.")
		}
	}()
}

func (r *Room) postReply(ctx context.Context, handle string, epoch uint64, reply string, logger zerolog.Logger) {
	if epoch != r.epoch {
		logger.Info().Msg("History purged since trigger. Dropping reply.")
		return
	}
	if handle != "" {
		if _, ok := r.sessions.Get(handle); !ok {
			logger.Info().Str("handle", handle).Msg("Triggering session gone. Dropping reply.")
			return
		}
	}

	bot, err := r.registry.Find(ctx, r.cfg.BotID)
	if err != nil {
		logger.Error().Err(err).Msg("Bot identity unavailable.")
		return
	}
	if len(reply) > r.cfg.MaxContentBytes {
		reply = reply[:r.cfg.MaxContentBytes]
	}

	msg, err := r.log.Append(ctx, store.Message{
		AuthorID:     bot.ID,
		AuthorRole:   bot.Role,
		AuthorAvatar: bot.Profile.DisplayImage,
		Body:         strings.ToValidUTF8(reply, ""),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to append responder reply.")
		return
	}
	r.publishMessage(msg)
}

// Rename changes the acting identity's identifier and rewrites its history.
func (r *Room) Rename(ctx context.Context, p Principal, newID string) (user.Identity, error) {
	return call(ctx, r, func(ctx context.Context) (user.Identity, error) {
		ident, _, err := r.resolve(ctx, p)
		if err != nil {
			return user.Identity{}, err
		}

		renamed, err := r.tracker.OnRename(ctx, ident.ID, newID)
		if err != nil {
			return user.Identity{}, err
		}
		if renamed.ID != ident.ID {
			r.logger.Info().Str("old_id", ident.ID).Str("new_id", renamed.ID).Msg("Identity renamed.")
			r.bc.Publish(NewEvent(TypeIdentityRenamed, r.now(), RenamedPayload{OldID: ident.ID, NewID: renamed.ID}))
		}
		return renamed, nil
	})
}

// UpdateProfile replaces the acting identity's profile.
func (r *Room) UpdateProfile(ctx context.Context, p Principal, profile user.Profile) (user.Identity, error) {
	return call(ctx, r, func(ctx context.Context) (user.Identity, error) {
		ident, _, err := r.resolve(ctx, p)
		if err != nil {
			return user.Identity{}, err
		}
		ident.Profile = profile
		if err := r.registry.Save(ctx, ident); err != nil {
			return user.Identity{}, err
		}
		r.refresh(ident)
		return ident, nil
	})
}

// refresh updates a live session's cached identity and announces the new profile.
func (r *Room) refresh(ident user.Identity) {
	snap := Offline(ident)
	if r.sessions.Refresh(ident) {
		s, _ := r.sessions.ByIdentity(ident.ID)
		snap = r.tracker.Snapshot(s)
	}
	r.bc.Publish(NewEvent(TypeProfileUpdated, r.now(), snap))
}

// Moderate performs a privileged action. A websocket actor also receives the result as an ack.
func (r *Room) Moderate(ctx context.Context, p Principal, in ModerationRequest) (ModerationResult, error) {
	return call(ctx, r, func(ctx context.Context) (ModerationResult, error) {
		actor, handle, err := r.resolve(ctx, p)
		if err != nil {
			return ModerationResult{}, err
		}

		res, err := r.moderate(ctx, actor, in)
		if err != nil {
			r.logger.Warn().Err(err).Str("actor", actor.ID).Str("action", string(in.Action)).Msg("Moderation rejected.")
			return ModerationResult{}, err
		}

		r.logger.Info().
			Str("actor", actor.ID).
			Str("action", string(res.Action)).
			Str("target", res.Target).
			Msg("Moderation applied.")

		if p.Handle != "" {
			r.bc.PublishTo(NewEvent(TypeAck, r.now(), res), handle)
		}
		return res, nil
	})
}

func (r *Room) moderate(ctx context.Context, actor user.Identity, in ModerationRequest) (ModerationResult, error) {
	res := ModerationResult{Action: in.Action, Target: user.NormalizeID(in.Target)}

	var (
		subject user.Identity
		err     error
	)
	switch in.Action {
	case ActionRank:
		if subject, err = r.gate.SetRole(ctx, actor, in.Target, in.Role); err == nil {
			r.refresh(subject)
		}
	case ActionMute:
		d := time.Duration(in.DurationSeconds) * time.Second
		if subject, err = r.gate.Mute(ctx, actor, in.Target, d, in.Indefinite); err == nil {
			r.sessions.Refresh(subject)
		}
	case ActionUnmute:
		if subject, err = r.gate.Unmute(ctx, actor, in.Target); err == nil {
			r.sessions.Refresh(subject)
		}
	case ActionKick:
		if subject, err = r.gate.Kick(ctx, actor, in.Target); err == nil {
			r.dropIdentity(subject.ID, CloseKicked, "Kicked by a moderator.")
		}
	case ActionUnkick:
		subject, err = r.gate.Unkick(ctx, actor, in.Target)
	case ActionDelete:
		if subject, err = r.gate.DeleteIdentity(ctx, actor, in.Target); err == nil {
			r.dropIdentity(subject.ID, CloseKicked, "Account deleted by a moderator.")
		}
	case ActionPurge:
		res.Removed, err = r.gate.Purge(ctx, actor, store.MessageFilter{AuthorID: res.Target})
		if err == nil {
			r.epoch++
		}
		return res, err
	default:
		return res, fmt.Errorf("action %q: %w", in.Action, ErrInvalidRequest)
	}

	if err != nil {
		return res, err
	}
	subject = subject.Clone()
	subject.SecretHash = nil
	res.Subject = &subject
	return res, nil
}

func (r *Room) dropIdentity(id string, code int, reason string) {
	if s, ok := r.sessions.ByIdentity(id); ok {
		r.drop(s.Handle, code, reason)
	}
}

// Recent returns the recent window visible to the principal.
func (r *Room) Recent(ctx context.Context, p Principal, n int) ([]store.Message, error) {
	return call(ctx, r, func(ctx context.Context) ([]store.Message, error) {
		ident, _, err := r.resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		return r.log.RecentVisible(n, r.gate.IsStaff(ident.Role)), nil
	})
}

// Roster returns the presence of every connected identity, evaluated now.
func (r *Room) Roster(ctx context.Context) ([]PresenceSnapshot, error) {
	return call(ctx, r, func(context.Context) ([]PresenceSnapshot, error) {
		return r.tracker.Roster(), nil
	})
}
