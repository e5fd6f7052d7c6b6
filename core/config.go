package core

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// ManagerOptions describes a Manager in terms of addresses and paths; it is
// what the service and the reaper command build from their configuration.
type ManagerOptions struct {
	StorePath        string
	RedisAddr        string
	RedisKey         string
	UploadDir        string
	ClassifierURL    string
	Classifier       Classifier
	ExpirationWindow time.Duration
	StrictExpiry     bool
	ClassifyTimeout  time.Duration
	RateLimit        int
	RateWindow       time.Duration
	Logger           *slog.Logger
	Metrics          *Metrics
}

// OpenStore picks the Redis list when an address is given and the flat
// file otherwise. The returned client is nil for the file store.
func OpenStore(path, redisAddr, redisKey string) (Store, *redis.Client, error) {
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})
		return NewRedisStore(client, redisKey), client, nil
	}
	if path == "" {
		path = "access.txt"
	}
	fs, err := NewFileStore(path)
	if err != nil {
		return nil, nil, err
	}
	return fs, nil, nil
}

func NewManagerWithOptions(opts ManagerOptions) (*Manager, error) {
	store, client, err := OpenStore(opts.StorePath, opts.RedisAddr, opts.RedisKey)
	if err != nil {
		return nil, err
	}

	var rateLimiter RateLimiter
	if opts.RateLimit > 0 {
		if client != nil {
			rateLimiter = NewRedisRateLimiter(client, "")
		} else {
			rateLimiter = NewMemoryRateLimiter()
		}
	}

	rateWindow := opts.RateWindow
	if rateWindow == 0 && opts.RateLimit > 0 {
		rateWindow = 1 * time.Hour
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewRemoteClassifier(opts.ClassifierURL, &http.Client{})
	}

	uploadDir := opts.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}

	m, err := NewManager(Config{
		Store:            store,
		Classifier:       classifier,
		UploadDir:        uploadDir,
		ExpirationWindow: opts.ExpirationWindow,
		StrictExpiry:     opts.StrictExpiry,
		ClassifyTimeout:  opts.ClassifyTimeout,
		RateLimiter:      rateLimiter,
		RateLimit:        opts.RateLimit,
		RateWindow:       rateWindow,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, err
	}
	if client != nil {
		m.closer = client
	}
	return m, nil
}
