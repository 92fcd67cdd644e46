package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/center"
	"github.com/goevery/notifier/internal/connection"
	"github.com/goevery/notifier/internal/events"
	"github.com/goevery/notifier/internal/history"
	"github.com/goevery/notifier/internal/platform"
	"github.com/goevery/notifier/internal/router"
	"github.com/goevery/notifier/internal/server"
	"github.com/goevery/notifier/internal/storage"
	"github.com/goevery/notifier/internal/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type App struct {
	logger         *zap.Logger
	settings       Settings
	authentication auth.Authentication
	center         *center.Center
	restServer     *server.RESTServer
	eventServer    *server.EventServer
}

func NewApp(logger *zap.Logger, settings Settings, store storage.Storage) (*App, error) {
	authenticator := auth.NewAuthenticator(settings.JWTSecret)

	authentication, err := authenticator.Authenticate(settings.Token)
	if err != nil {
		return nil, fmt.Errorf("reading session token: %w", err)
	}

	if settings.Role != "" {
		role, err := auth.ParseRole(settings.Role)
		if err != nil {
			return nil, err
		}

		authentication.Role = role
	}

	notifier, requester, err := buildNotifier(logger, settings)
	if err != nil {
		return nil, err
	}

	var sound platform.SoundPlayer = platform.NoopPlayer{}
	if settings.Sound {
		sound = platform.NewBellPlayer(os.Stdout)
	}

	websocketTransport := transport.NewWebSocketTransport(
		logger.Named("transport"),
		&websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
		transport.Config{
			URL:               settings.ServerURL,
			Token:             settings.Token,
			HeartbeatInterval: time.Duration(settings.HeartbeatIntervalMs) * time.Millisecond,
		},
	)

	connectionManager := connection.NewManager(
		logger.Named("connection"),
		websocketTransport,
		connection.Config{
			Backoff: connection.Backoff{
				Base: time.Duration(settings.ReconnectBaseDelayMs) * time.Millisecond,
				Max:  time.Duration(settings.ReconnectMaxDelayMs) * time.Millisecond,
			},
			MaxAttempts:      settings.ReconnectMaxAttempts,
			OperationTimeout: 10 * time.Second,
		},
	)

	connectionManager.OnStateChange(func(from connection.State, to connection.State) {
		logger.Info("connection state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	})

	topicTable, err := router.DefaultTopicTable(settings.GeneralTopic, settings.ElevatedTopic)
	if err != nil {
		return nil, err
	}

	notificationRouter := router.NewRouter(logger.Named("router"), connectionManager, topicTable)
	historyManager := history.NewManager(logger.Named("history"), store, settings.HistoryKey, settings.HistoryLimit)
	permissionGate := platform.NewPermissionGate(logger, requester, store, settings.PermissionKey)

	bus := events.NewBus(logger.Named("bus"))
	for _, eventType := range []events.Type{events.NewOrder, events.OrderCompleted, events.InventoryUpdated} {
		bus.Subscribe(eventType, func(event events.Event) {
			logger.Debug("refresh signal",
				zap.String("event", string(event.Type)),
				zap.String("notificationId", event.NotificationId))
		})
	}

	notificationCenter := center.NewCenter(
		logger.Named("center"),
		connectionManager,
		notificationRouter,
		historyManager,
		permissionGate,
		notifier,
		sound,
		bus,
	)

	restServer := server.NewRESTServer(logger.Named("rest"), notificationCenter)
	eventServer := server.NewEventServer(
		logger.Named("events"),
		&websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			CheckOrigin:       allowAnyOrigin,
			EnableCompression: true,
		},
		bus,
		historyManager,
		server.EventServerConfig{},
	)

	return &App{
		logger,
		settings,
		*authentication,
		notificationCenter,
		restServer,
		eventServer,
	}, nil
}

// Panels are local and the REST API already answers any origin.
func allowAnyOrigin(*http.Request) bool {
	return true
}

type notifierWithPermission interface {
	platform.Notifier
	platform.PermissionRequester
}

func buildNotifier(logger *zap.Logger, settings Settings) (platform.Notifier, platform.PermissionRequester, error) {
	var notifier notifierWithPermission

	switch settings.Notifier {
	case "log":
		notifier = platform.NewLogNotifier(logger.Named("notifier"))
	case "webpush":
		subscription, err := platform.ParseWebPushSubscription(settings.WebPushSubscription)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing WEBPUSH_SUBSCRIPTION: %w", err)
		}

		notifier = platform.NewWebPushNotifier(platform.WebPushConfig{
			Subscription:    subscription,
			VAPIDPublicKey:  settings.VAPIDPublicKey,
			VAPIDPrivateKey: settings.VAPIDPrivateKey,
			Subscriber:      settings.VAPIDSubscriber,
		})
	case "none":
		notifier = platform.NoopNotifier{}
	default:
		return nil, nil, fmt.Errorf("unknown notifier: %s", settings.Notifier)
	}

	return notifier, notifier, nil
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	a.center.Start(ctx, a.authentication)
	defer a.center.Stop()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	httpRouter := mux.NewRouter()
	apiRouter := httpRouter.
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.restServer.Register(apiRouter)
	a.eventServer.Register(apiRouter)

	httpServer := &http.Server{
		Addr:    address,
		Handler: httpRouter,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		log.Fatalf("failed to parse settings from environment: %v", err)
	}

	logger, err := buildZapLogger(settings.LogEncoding, settings.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, closeStore, err := openStorage(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeStore()

	app, err := NewApp(logger, settings, store)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}

	app.run(ctx)
}
