package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tunaaoguzhann/classify-access/core"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	manager, err := core.NewManagerWithOptions(core.ManagerOptions{
		StorePath:        cfg.StorePath,
		RedisAddr:        cfg.RedisAddr,
		RedisKey:         cfg.RedisKey,
		UploadDir:        cfg.UploadDir,
		ClassifierURL:    cfg.ClassifierURL,
		ExpirationWindow: cfg.ExpirationWindow,
		StrictExpiry:     cfg.StrictExpiry,
		ClassifyTimeout:  cfg.ClassifyTimeout,
		RateLimit:        cfg.IssueRateLimit,
		RateWindow:       cfg.IssueRateWindow,
		Logger:           logger,
		Metrics:          core.NewMetrics(),
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	if cfg.ReapInterval > 0 {
		go manager.RunReaper(ctx, cfg.ReapInterval)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(manager, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.ListenAddr,
			"redis", cfg.RedisAddr != "",
			"store", cfg.StorePath,
			"window", cfg.ExpirationWindow,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- config ---

type config struct {
	ListenAddr       string
	StorePath        string
	UploadDir        string
	RedisAddr        string
	RedisKey         string
	ClassifierURL    string
	ExpirationWindow time.Duration
	ReapInterval     time.Duration
	StrictExpiry     bool
	ClassifyTimeout  time.Duration
	MaxUploadBytes   int64
	IssueRateLimit   int
	IssueRateWindow  time.Duration
	JWTSecret        string
}

func loadConfig() (config, error) {
	listenAddr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		if _, err := strconv.Atoi(p); err != nil {
			return config{}, errors.New("PORT must be a number")
		}
		listenAddr = ":" + p
	}
	listenAddr = envOr("LISTEN_ADDR", listenAddr)

	window, err := durationEnv("EXPIRATION_WINDOW", core.DefaultExpirationWindow)
	if err != nil {
		return config{}, err
	}
	reapInterval, err := durationEnv("REAP_INTERVAL", 0)
	if err != nil {
		return config{}, err
	}
	classifyTimeout, err := durationEnv("CLASSIFY_TIMEOUT", core.DefaultClassifyTimeout)
	if err != nil {
		return config{}, err
	}
	rateWindow, err := durationEnv("ISSUE_RATE_WINDOW", time.Hour)
	if err != nil {
		return config{}, err
	}
	rateLimit, err := intEnv("ISSUE_RATE_LIMIT", 0)
	if err != nil {
		return config{}, err
	}
	maxUpload, err := intEnv("MAX_UPLOAD_BYTES", 32<<20)
	if err != nil {
		return config{}, err
	}
	strict, err := boolEnv("STRICT_EXPIRY", false)
	if err != nil {
		return config{}, err
	}

	return config{
		ListenAddr:       listenAddr,
		StorePath:        envOr("CREDENTIAL_STORE_PATH", "access.txt"),
		UploadDir:        envOr("UPLOAD_DIR", "./uploads"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisKey:         os.Getenv("REDIS_KEY"),
		ClassifierURL:    os.Getenv("CLASSIFIER_URL"),
		ExpirationWindow: window,
		ReapInterval:     reapInterval,
		StrictExpiry:     strict,
		ClassifyTimeout:  classifyTimeout,
		MaxUploadBytes:   int64(maxUpload),
		IssueRateLimit:   rateLimit,
		IssueRateWindow:  rateWindow,
		JWTSecret:        os.Getenv("ISSUER_JWT_SECRET"),
	}, nil
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New(key + " has invalid duration " + strconv.Quote(v))
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(key + " must be true or false")
	}
	return b, nil
}
