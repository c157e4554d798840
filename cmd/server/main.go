package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/awesome-pro/stack/auth"
	"github.com/awesome-pro/stack/internal/config"
	"github.com/awesome-pro/stack/oauthflow"
	"github.com/awesome-pro/stack/oauthflow/flowrepo"
	"github.com/awesome-pro/stack/server"
	"github.com/awesome-pro/stack/sessions"
	"github.com/awesome-pro/stack/sessions/sessionrepo"
	"github.com/awesome-pro/stack/token"
	"github.com/awesome-pro/stack/token/keys"
	"github.com/awesome-pro/stack/users"
	"github.com/awesome-pro/stack/users/userrepo"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "auth").Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("server stopped")
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	keyring, err := buildKeyring(cfg)
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(keyring, token.WithLeeway(cfg.ClockLeeway))
	if err != nil {
		return err
	}

	ctx := context.Background()
	userRepo, sessionStore, flowRepo, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	manager, err := auth.NewManager(auth.Repos{
		Users:    userRepo,
		Sessions: sessionStore,
	}, codec,
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithSignInURL(cfg.SignInURL),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	registry := oauthflow.NewRegistry(cfg.Providers()...)
	coordinator, err := oauthflow.NewCoordinator(registry, flowRepo, userRepo,
		oauthflow.WithStateTTL(cfg.FlowStateTTL),
		oauthflow.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	srv, err := server.New(manager, coordinator, keyring,
		server.WithLogger(logger),
		server.WithBaseURL(cfg.BaseURL),
	)
	if err != nil {
		return err
	}

	go purgeExpiredFlows(ctx, coordinator, logger)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Strs("providers", registry.Names()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("listen failed")
		}
	}()

	waitForStopSignal()
	return shutdown(httpServer)
}

func buildKeyring(cfg *config.Config) (*token.Keyring, error) {
	active, err := buildSigner(cfg.RSAKeyPath, cfg.HMACSecret, "active")
	if err != nil {
		return nil, err
	}
	previous, err := buildSigner(cfg.PreviousRSAKeyPath, cfg.PreviousHMACSecret, "previous")
	if err != nil {
		return nil, err
	}
	if previous != nil {
		return token.NewRotatingKeyring(active, previous), nil
	}
	return token.NewKeyring(active), nil
}

func buildSigner(rsaKeyPath, hmacSecret, keyID string) (token.Signer, error) {
	if rsaKeyPath != "" {
		pemData, err := os.ReadFile(rsaKeyPath)
		if err != nil {
			return nil, errors.Wrapf(err, "[buildSigner] reading %s", rsaKeyPath)
		}
		keyPair, err := keys.LoadKeyPairFromPEM(keyID, string(pemData))
		if err != nil {
			return nil, errors.Wrapf(err, "[buildSigner] parsing %s", rsaKeyPath)
		}
		return token.NewKeyPairSigner(keyPair), nil
	}
	if hmacSecret != "" {
		return token.NewHMACSigner(hmacSecret), nil
	}
	return nil, nil
}

// buildStores selects the persistence backends. Postgres carries user
// records when configured; sessions and flow state prefer redis, then
// postgres, then memory.
func buildStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (users.Repo, sessions.Store, oauthflow.Repo, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	var pool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, nil, errors.Wrap(err, "[buildStores] postgres pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, nil, errors.Wrap(err, "[buildStores] postgres ping")
		}
		closers = append(closers, pool.Close)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, nil, nil, errors.Wrap(err, "[buildStores] redis url")
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, nil, nil, errors.Wrap(err, "[buildStores] redis ping")
		}
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var userRepo users.Repo
	var sessionStore sessions.Store
	var flowRepo oauthflow.Repo

	switch {
	case pool != nil:
		userRepo = userrepo.NewPostgres(pool)
		sessionStore = sessionrepo.NewPostgres(pool)
	default:
		logger.Warn().Msg("no POSTGRES_URL configured, user and session state is in-memory")
		userRepo = userrepo.NewMemory()
		sessionStore = sessionrepo.NewMemory()
	}

	if redisClient != nil {
		sessionStore = sessionrepo.NewRedis(redisClient, sessionrepo.WithSessionTTL(cfg.RefreshTokenTTL))
		flowRepo = flowrepo.NewRedis(redisClient)
	} else {
		flowRepo = flowrepo.NewMemory()
	}

	return userRepo, sessionStore, flowRepo, cleanup, nil
}

// purgeExpiredFlows sweeps abandoned authorization flows so the state store
// does not accumulate dead records.
func purgeExpiredFlows(ctx context.Context, coordinator *oauthflow.Coordinator, logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coordinator.PurgeExpired(ctx); err != nil {
				logger.Warn().Err(err).Msg("flow purge failed")
			}
		}
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}
