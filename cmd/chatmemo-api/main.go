package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/config"
	"github.com/yuzhe-s/chat-memo/internal/database"
	"github.com/yuzhe-s/chat-memo/internal/identity"
	"github.com/yuzhe-s/chat-memo/internal/logging"
	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
	"github.com/yuzhe-s/chat-memo/internal/realtime"
	"github.com/yuzhe-s/chat-memo/internal/server"
	"github.com/yuzhe-s/chat-memo/internal/sharekey"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatmemo-api",
		Short: "Chat memo board backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Identity cookie signing secret (overrides env)")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("identity.cookie_name"), "Identity cookie name")
	cmd.PersistentFlags().Duration("identity-ttl", defaults.GetDuration("identity.ttl"), "Identity cookie lifetime")
	cmd.PersistentFlags().Bool("secure-cookie", defaults.GetBool("identity.secure_cookie"), "Mark the identity cookie Secure")
	cmd.PersistentFlags().String("admin-password", defaults.GetString("admin.password"), "Admin statistics password")
	cmd.PersistentFlags().Int("history-limit", defaults.GetInt("chat.history_limit"), "Messages replayed on join (0 replays all)")
	cmd.PersistentFlags().Int("send-buffer", defaults.GetInt("realtime.send_buffer"), "Outbound events queued per connection")
	cmd.PersistentFlags().Duration("ping-interval", defaults.GetDuration("realtime.ping_interval"), "Websocket ping interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "identity.signing_secret", "signing-secret")
	bindFlag(cmd, "identity.cookie_name", "cookie-name")
	bindFlag(cmd, "identity.ttl", "identity-ttl")
	bindFlag(cmd, "identity.secure_cookie", "secure-cookie")
	bindFlag(cmd, "admin.password", "admin-password")
	bindFlag(cmd, "chat.history_limit", "history-limit")
	bindFlag(cmd, "realtime.send_buffer", "send-buffer")
	bindFlag(cmd, "realtime.ping_interval", "ping-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		KeyGenerator: sharekey.NewGenerator(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	codec, err := identity.NewCodec(identity.CodecConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.IdentityTTL,
	})
	if err != nil {
		return err
	}
	identityStore, err := identity.NewStore(identity.StoreConfig{
		Database:     db,
		Codec:        codec,
		CookieName:   appConfig.CookieName,
		SecureCookie: appConfig.SecureCookie,
		IDProvider:   identity.NewUUIDProvider(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	registry := presence.NewRegistry()
	broadcaster, err := realtime.NewBroadcaster(realtime.BroadcasterConfig{
		Hub:          hub,
		Messages:     notesService,
		HistoryLimit: appConfig.ChatHistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	lifecycle, err := realtime.NewLifecycle(realtime.LifecycleConfig{
		Hub:          hub,
		Registry:     registry,
		Broadcaster:  broadcaster,
		Notes:        notesService,
		SendBuffer:   appConfig.SendBuffer,
		PingInterval: appConfig.PingInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		NotesService:  notesService,
		IdentityStore: identityStore,
		Lifecycle:     lifecycle,
		Hub:           hub,
		Registry:      registry,
		AdminPassword: appConfig.AdminPassword,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server stopping", zap.Int("live_connections", hub.Connections()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		hub.Close()
		if waitErr := lifecycle.Wait(shutdownCtx); waitErr != nil {
			logger.Warn("websocket connections still open at shutdown", zap.Int("live_connections", hub.Connections()), zap.Error(waitErr))
		}
		return err
	case err := <-errCh:
		hub.Close()
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = lifecycle.Wait(waitCtx)
		return err
	}
}
