package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = pflag.String("config", os.Getenv("GATEHOUSE_CONFIG"), "path to YAML config")
		addr       = pflag.String("addr", "", "HTTP listen address (overrides config)")
		grpcAddr   = pflag.String("grpc-addr", "", "gRPC health listen address (overrides config)")
		logLevel   = pflag.String("log-level", "", "log level (overrides config)")
	)
	pflag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	obs.Init()
	obs.SetLevel(cfg.LogLevel)
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("open stores")
	}
	defer st.close()

	users := auth.NewCachedUserStore(st.users, cfg.Cache.Size, cfg.Cache.TTL)
	if err := bootstrapAdmin(ctx, cfg.Bootstrap, users, st.roles, st.createUser); err != nil {
		log.WithError(err).Fatal("bootstrap super admin")
	}

	tokens, err := token.NewManager(cfg.Tokens.AccessSecret, cfg.Tokens.RefreshSecret,
		token.WithIssuer(cfg.Tokens.Issuer),
		token.WithTTLs(cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL),
	)
	if err != nil {
		log.WithError(err).Fatal("token manager")
	}

	var storage token.Storage = token.NewMemoryStorage(nil)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.WithError(err).Fatal("redis ping")
		}
		storage = token.NewRedisStorage(client, cfg.Redis.Prefix)
		log.WithField("addr", cfg.Redis.Addr).Info("token pairs stored in redis")
	}

	sessions := session.NewManager(st.sessions, cfg.Session)
	security := session.NewSecurity(sessions, session.NewEventLog(cfg.EventCapacity), cfg.Security)
	svc := auth.NewService(users, security, tokens,
		auth.WithTokenStorage(storage),
		auth.WithLoginLimiter(session.NewLoginLimiter(cfg.Login, sessions.Now)),
	)

	enforcer := access.NewEnforcer(audit.NewLog(cfg.AuditCapacity), access.WithHierarchy(cfg.Hierarchy))

	sweeper, err := session.NewSweeper(sessions, cfg.SweepSchedule)
	if err != nil {
		log.WithError(err).Fatal("session sweeper")
	}
	sweeper.Start()

	api := httpapi.New(httpapi.Deps{
		Auth:     svc,
		Admin:    admin.NewService(users, st.roles, enforcer),
		Enforcer: enforcer,
		Policies: cfg,
		Ready:    st.ready,
		Version:  version,
	},
		httpapi.WithRateLimit(cfg.HTTPLimit.RPS, cfg.HTTPLimit.Burst),
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health := httpapi.NewGRPCServer(st.ready, 0)
	health.Register(grpcServer)
	go health.Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("grpc serve")
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()
	log.WithFields(map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"postgres":  cfg.PostgresDSN != "",
	}).Info("gatehouse api started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	sweeper.Stop(shutdownCtx)
	log.Info("stopped")
}

type stores struct {
	users      auth.UserStore
	roles      auth.RoleStore
	sessions   session.Store
	ready      httpapi.ReadyProbe
	createUser func(context.Context, *auth.User) error
	close      func()
}

// openStores picks PostgreSQL when a DSN is configured and process memory
// otherwise.
func openStores(cfg config.Config) (*stores, error) {
	if cfg.PostgresDSN == "" {
		users := auth.NewMemoryUserStore()
		obs.Logger().Warn("no postgres_dsn configured; users and sessions live in memory")
		return &stores{
			users:    users,
			roles:    auth.NewMemoryRoleStore(auth.DefaultRoles()...),
			sessions: session.NewMemoryStore(),
			ready:    httpapi.PingProbe(nil),
			createUser: func(_ context.Context, u *auth.User) error {
				return users.Put(u)
			},
			close: func() {},
		}, nil
	}
	db, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return &stores{
		users:      db,
		roles:      db,
		sessions:   db.Sessions(),
		ready:      httpapi.PingProbe(db.Ping),
		createUser: db.CreateUser,
		close:      func() { _ = db.Close() },
	}, nil
}
