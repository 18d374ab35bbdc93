package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"relay/internal/app/chat"
	"relay/internal/app/db"
	"relay/internal/app/db/badgerdb"
	"relay/internal/app/db/sqlitedb"
	"relay/internal/app/identity"
	"relay/internal/app/responder"
	"relay/internal/app/storage"
	"relay/internal/app/store"
	"relay/internal/app/user"
	"relay/internal/configs"
	"relay/internal/handler"
	"relay/internal/pkg/censor"
	"relay/internal/pkg/logx"
	"relay/internal/pkg/otelx"
	"relay/internal/pkg/pow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

// serve runs until ctx is cancelled, then shuts the server and the room down.
func serve(ctx context.Context) error {
	shutdownTracing, err := otelx.Setup(ctx, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logx.Error(err, "Tracer shutdown failed")
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logx.Error(err, "Store close failed")
		}
	}()

	registry := identity.NewRegistry(st, cfg.DeveloperIDs)
	auth := identity.NewProvider(registry, bcrypt.DefaultCost)

	roles, err := moderatorRoles(cfg.ModeratorRoles)
	if err != nil {
		return err
	}

	filter, err := censor.New(cfg.CensoredWords)
	if err != nil {
		return fmt.Errorf("build censor: %w", err)
	}

	room := chat.NewRoom(chat.Config{
		LivenessTimeout: cfg.LivenessTimeout,
		SweepInterval:   cfg.SweepInterval,
		Retention:       cfg.LogRetention,
		RecentWindow:    cfg.RecentWindow,
		MaxContentBytes: cfg.MaxContentBytes,
		ModeratorRoles:  roles,
		BotTrigger:      cfg.BotTrigger,
		BotID:           cfg.BotIdentity,
	}, chat.Deps{
		Store:     st,
		Registry:  registry,
		Auth:      auth,
		Responder: newResponder(cfg),
		Censor:    filter,
	})

	var files storage.StorageService
	if cfg.S3Enabled() {
		files, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return err
		}
	}

	roomErr := make(chan error, 1)
	go func() { roomErr <- room.Run(ctx) }()

	router := handler.Router(ctx, &handler.AppDeps{
		Room:     room,
		Registry: registry,
		Auth:     auth,
		Pow:      pow.NewManager(ctx, cfg.PowDifficulty),
		Config:   cfg,
		Storage:  files,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logx.Info(fmt.Sprintf("Relay starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")
	case err := <-roomErr:
		logx.Error(err, "Room stopped unexpectedly")
	case err := <-serverErr:
		logx.Error(err, "Server failed")
	}

	room.Stop()
	<-room.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logx.Info("Server gracefully stopped.")
	return nil
}

func openStore(ctx context.Context, cfg *configs.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case configs.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return db.NewStore(pool), nil
	case configs.DriverSQLite:
		return sqlitedb.Open(ctx, cfg.SQLitePath)
	case configs.DriverBadger:
		return badgerdb.Open(cfg.BadgerPath)
	default:
		return store.NewBoundedMemory(cfg.LogRetention), nil
	}
}

func moderatorRoles(names []string) ([]user.Role, error) {
	roles := make([]user.Role, 0, len(names))
	for _, name := range names {
		role, ok := user.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("unknown moderator role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// newResponder returns nil when no API key is configured, which disables bot replies.
func newResponder(cfg *configs.AppConfig) responder.Responder {
	if cfg.ResponderAPIKey == "" {
		return nil
	}
	return responder.NewRetrying(responder.NewOpenAI(responder.OpenAIConfig{
		APIKey:  cfg.ResponderAPIKey,
		Model:   cfg.ResponderModel,
		BaseURL: cfg.ResponderBaseURL,
		BotID:   user.NormalizeID(cfg.BotIdentity),
	}), cfg.ResponderAttempts, cfg.ResponderBaseDelay, "")
}
