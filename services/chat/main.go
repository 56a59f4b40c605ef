package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatline/internal/audit"
	"github.com/chatline/internal/config"
	"github.com/chatline/internal/handler"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/observability"
	"github.com/chatline/internal/push"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/startup"
	"github.com/chatline/internal/storage"
	memorystorage "github.com/chatline/internal/storage/memory"
	redisstorage "github.com/chatline/internal/storage/redis"
	"github.com/chatline/internal/ws"
	"github.com/chatline/migrations"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var sessions storage.SessionStore
	if cfg.Redis.URL != "" {
		redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
		sessions, err = redisstorage.New(redisCtx, cfg.Redis.URL)
		redisCancel()
		if err != nil {
			logger.Errorf("redis connect: %v", err)
			os.Exit(1)
		}
		logger.Info("redis session store connected")
	} else {
		sessions = memorystorage.New()
		logger.Info("REDIS_URL not set, using in-memory session store")
	}
	defer sessions.Close()

	var auditPub audit.Publisher = audit.NoopPublisher{}
	if cfg.AMQPURL != "" {
		pub, err := audit.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Errorf("amqp connect: %v (audit events disabled)", err)
		} else {
			auditPub = pub
			logger.Infof("audit events publishing to exchange %s", cfg.AMQPExchange)
		}
	}
	defer auditPub.Close()

	userRepo := repository.NewUserRepository(pool)
	contactRepo := repository.NewContactRepository(pool)
	groupRepo := repository.NewGroupRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	vapidKeys, err := push.EnsureVAPIDKeys("")
	if err != nil {
		logger.Errorf("VAPID keys unavailable: %v (push notifications disabled)", err)
		vapidKeys = nil
	}
	notifier := push.NewNotifier(pushRepo, vapidKeys)

	hub := ws.NewHub(ws.NewRegistry(), msgRepo, groupRepo, userRepo, notifier, auditPub, cfg.MaxWSConnections)

	authH := handler.NewAuthHandler(userRepo, sessions, cfg.SessionTTL())
	userH := handler.NewUserHandler(userRepo, contactRepo, hub)
	groupH := handler.NewGroupHandler(groupRepo, msgRepo, hub)
	msgH := handler.NewMessageHandler(msgRepo, groupRepo, hub)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins, cfg.WSSendBufferSize)
	vapidPublic := ""
	if vapidKeys != nil {
		vapidPublic = vapidKeys.PublicKey
	}
	pushH := handler.NewPushHandler(pushRepo, vapidPublic)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket responses: the wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(observability.HTTPMetrics)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", observability.Handler())
	r.Get("/api/push/vapid-public", pushH.VAPIDPublic)

	r.Post("/api/auth/register", authH.Register)
	r.Post("/api/auth/login", authH.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))
		r.Post("/api/auth/logout", authH.Logout)
		r.Get("/api/users/me", authH.Me)
		r.Put("/api/users/me", userH.UpdateProfile)
		r.Get("/api/users", userH.List)
		r.Get("/api/users/{id}", userH.Get)
		r.Get("/api/contacts", userH.ListContacts)
		r.Post("/api/contacts/requests", userH.Follow)
		r.Get("/api/contacts/requests", userH.ListFollowRequests)
		r.Post("/api/contacts/requests/respond", userH.RespondFollow)
		r.Delete("/api/contacts/{id}", userH.Unfriend)
		r.Post("/api/groups", groupH.Create)
		r.Get("/api/groups", groupH.ListMine)
		r.Get("/api/groups/{id}", groupH.Get)
		r.Put("/api/groups/{id}", groupH.Rename)
		r.Put("/api/groups/{id}/icon", groupH.SetIcon)
		r.Post("/api/groups/{id}/members", groupH.AddMembers)
		r.Post("/api/groups/{id}/leave", groupH.Leave)
		r.Delete("/api/groups/{id}", groupH.Delete)
		r.Get("/api/chats/{id}/messages", msgH.History)
		r.Delete("/api/chats/{id}", msgH.ClearChat)
		r.Delete("/api/messages/{id}", msgH.Delete)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hub.Shutdown()
	logger.Info("hub stopped")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatline"
		password = "chatline_secret"
		database = "chatline"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
