// Package server initializes and runs the main application server.
// It wires storage, the MQTT bridge, the notification channel and the HTTP
// gateway together and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dsmirnov/homesec/internal/logging"
	"github.com/dsmirnov/homesec/internal/pubsub/mqtt"
	"github.com/dsmirnov/homesec/internal/server/accounts"
	"github.com/dsmirnov/homesec/internal/server/bridge"
	"github.com/dsmirnov/homesec/internal/server/clips"
	"github.com/dsmirnov/homesec/internal/server/command"
	"github.com/dsmirnov/homesec/internal/server/config"
	"github.com/dsmirnov/homesec/internal/server/gateway"
	"github.com/dsmirnov/homesec/internal/server/notify"
	"github.com/dsmirnov/homesec/internal/server/pairing"
	"github.com/dsmirnov/homesec/internal/server/registry"
	"github.com/dsmirnov/homesec/internal/server/session"
	"github.com/dsmirnov/homesec/internal/server/storage"
	"github.com/dsmirnov/homesec/internal/server/telemetry"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   storage.Store
	broker  *mqtt.Broker
	bridge  *bridge.Bridge
	handler *gateway.Handler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	store, err := storage.NewPostgresStore(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	clipStore, err := clips.NewS3Store(ctx, clips.Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("clip store init error: %w", err)
	}

	var notifier telemetry.Notifier
	if cfg.TelegramToken != "" {
		notifier, err = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			return nil, fmt.Errorf("notifier init error: %w", err)
		}
	} else {
		notifier = notify.NewNoop(logger)
	}

	broker := mqtt.NewBroker(cfg.MQTTBrokerURL, "homesec-server", logger)

	secret := []byte(cfg.SecretKey)
	hub := gateway.NewHub(logger)
	sessions := session.NewService(store.Accounts(), secret, cfg.TokenValidityDuration, logger)
	accs := accounts.NewService(store.Accounts(), clipStore, secret, logger)
	reg := registry.NewService(store.Accounts(), store.Connections(), sessions, logger)
	pair := pairing.NewService(store.Accounts(), hub, logger)
	router := telemetry.NewRouter(store.Accounts(), store.Devices(), hub, notifier, logger)
	cmds := command.NewService(broker, store.Devices(), clipStore, logger)

	handler := gateway.NewHandler(hub, sessions, accs, reg, pair, cmds, store, clipStore, logger)
	br := bridge.New(broker, pair, router, logger)

	return &App{
		config:  cfg,
		logger:  logger,
		store:   store,
		broker:  broker,
		bridge:  br,
		handler: handler,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server error", "error", err)
		cancelFunc()
	}
}

func (app *App) startBridge(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, "bridge error", "error", err)
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	if err := app.broker.Connect(ctx); err != nil {
		return fmt.Errorf("broker connect error: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startBridge(ctx, cancelFunc)
	}()

	wg.Wait()

	app.broker.Disconnect()
	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close error", "error", err)
	}
	app.logger.Info(ctx, "app stopped")
	return nil
}
