package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"volleystat/config"
	"volleystat/internal/bunny"
	"volleystat/internal/handler"
	"volleystat/internal/redis"
	"volleystat/internal/repository"
	"volleystat/internal/server"
	"volleystat/internal/services"
	"volleystat/internal/storage"
	"volleystat/internal/upload"
	"volleystat/internal/websocket"
	"volleystat/pkg/database"
	"volleystat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	database.Connect(cfg)
	defer database.Close()

	if err := database.RunFullMigration("migrations"); err != nil {
		log.Logger.Fatal("failed to migrate database: " + err.Error())
	}

	redis.Initialize(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rdb := redis.GetClient()
	if err := redis.Ping(context.Background(), rdb); err != nil {
		log.Logger.Fatal("failed to reach redis: " + err.Error())
	}

	registry, err := bunny.NewClient(bunny.ClientConfig{
		APIBase:       cfg.Bunny.APIBase,
		LibraryID:     cfg.Bunny.LibraryID,
		APIKey:        cfg.Bunny.APIKey,
		TusEndpoint:   cfg.Bunny.TusEndpoint,
		CredentialTTL: cfg.Upload.CredentialTTL,
	})
	if err != nil {
		log.Logger.Fatal(err.Error())
	}
	signer, err := bunny.NewSigner(bunny.SignerConfig{
		CDNHost: cfg.Bunny.CDNHost,
		Secret:  cfg.Bunny.TokenKey,
		Scheme:  bunny.TokenScheme(cfg.Bunny.TokenScheme),
		TTL:     cfg.Upload.PlaybackTTL,
	})
	if err != nil {
		log.Logger.Fatal(err.Error())
	}

	var staging services.StagingStore
	s3Client, err := storage.NewClient(context.Background(), storage.S3Config{
		Region:     cfg.S3.Region,
		Bucket:     cfg.S3.Bucket,
		AccessKey:  cfg.S3.AccessKey,
		SecretKey:  cfg.S3.SecretKey,
		Endpoint:   cfg.S3.Endpoint,
		PresignTTL: cfg.S3.PresignTTL,
	})
	switch {
	case err == nil:
		staging = s3Client
	case errors.Is(err, storage.ErrNotConfigured):
		log.Warnf("S3 staging disabled: %v", err)
	default:
		log.Logger.Fatal("failed to configure S3 staging: " + err.Error())
	}

	userRepo := repository.NewUserRepository(database.DB)
	teamRepo := repository.NewTeamRepository(database.DB)
	jobRepo := repository.NewUploadJobRepository(database.DB)

	authService := services.NewAuthService(userRepo, redis.NewTokenDenyList(rdb), cfg)
	teamService := services.NewTeamService(teamRepo, userRepo)
	videoService := services.NewVideoService(registry, signer, cfg.Bunny.EmbedBase)
	jobService := services.NewUploadJobService(services.UploadJobDeps{
		Repo:   jobRepo,
		Issuer: videoService,
		Refresher: upload.RefresherFunc(func(ctx context.Context) error {
			_, err := videoService.List(ctx, services.DefaultPage, 1)
			return err
		}),
		Staging:   staging,
		Publisher: redis.NewPublisher(rdb),
		Channel:   redis.UploadChannel,
		Logger:    log,
	}, cfg.Upload)

	if _, err := jobService.RecoverInterrupted(context.Background()); err != nil {
		log.Errorf("failed to recover interrupted uploads: %v", err)
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	go pruneJobs(bgCtx, jobService, cfg.Upload.JobRetention, log)

	hub := websocket.NewHub()
	go hub.Run(bgCtx)

	bridge := websocket.NewRedisBridge(redis.NewSubscriber(rdb), hub)
	go func() {
		if err := bridge.Run(bgCtx, []string{redis.UploadChannelPattern}); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("upload event bridge stopped: %v", err)
		}
	}()

	rateCfg := redis.DefaultRateLimitConfig()
	rateCfg.AuthLimit = cfg.AuthRateLimit
	rateCfg.AuthWindow = cfg.AuthRateWindow
	limiter := redis.NewRateLimiter(rdb, rateCfg)

	srv := server.New(cfg, log)
	srv.SetupRoutes(&server.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		Team:   handler.NewTeamHandler(teamService),
		Video:  handler.NewVideoHandler(videoService),
		Upload: handler.NewUploadHandler(jobService),
		WS:     websocket.NewHandler(authService, hub, originChecker(cfg.CORSOrigins), websocket.NewLogger(log)),
	}, server.Dependencies{
		Auth:    authService,
		Limiter: limiter,
		Checks: []server.HealthCheck{
			{Name: "postgres", Check: func(context.Context) error { return database.HealthCheck() }},
			{Name: "redis", Check: func(ctx context.Context) error { return redis.Ping(ctx, rdb) }},
		},
	})
	srv.OnShutdown(jobService.Shutdown)
	srv.OnShutdown(func(context.Context) { stopBackground() })

	if err := srv.Start(); err != nil {
		log.Errorf("server stopped with error: %v", err)
	}
}

// pruneJobs drops old finished job rows once at startup and then hourly.
func pruneJobs(ctx context.Context, jobs *services.UploadJobService, retention time.Duration, log *logger.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := jobs.PruneFinished(ctx, retention); err != nil && ctx.Err() == nil {
			log.Warnf("failed to prune upload jobs: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// originChecker allows websocket upgrades from the configured CORS origins.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
