package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunaaoguzhann/classify-access/core"
)

type reapOptions struct {
	storePath string
	redisAddr string
	redisKey  string
	window    time.Duration
}

// main always exits 0: reaping is best-effort and failures are only logged.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cmd := newRootCmd(logger, time.Now)
	if err := cmd.Execute(); err != nil {
		logger.Error("reaper", "err", err)
	}
}

func newRootCmd(logger *slog.Logger, now func() time.Time) *cobra.Command {
	opts := reapOptions{
		storePath: envOr("CREDENTIAL_STORE_PATH", "access.txt"),
		redisAddr: os.Getenv("REDIS_ADDR"),
		redisKey:  os.Getenv("REDIS_KEY"),
		window:    core.DefaultExpirationWindow,
	}
	if v := os.Getenv("EXPIRATION_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("ignoring invalid EXPIRATION_WINDOW", "value", v, "default", opts.window)
		} else {
			opts.window = d
		}
	}

	cmd := &cobra.Command{
		Use:           "reaper",
		Short:         "Remove expired credentials from the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reapOnce(cmd.Context(), logger, opts, now())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.storePath, "store-path", opts.storePath, "credential store file")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", opts.redisAddr, "use the Redis store at this address instead of the file")
	cmd.Flags().StringVar(&opts.redisKey, "redis-key", opts.redisKey, "Redis list holding the credentials")
	cmd.Flags().DurationVar(&opts.window, "window", opts.window, "credential lifetime")
	return cmd
}

func reapOnce(ctx context.Context, logger *slog.Logger, opts reapOptions, now time.Time) int {
	if ctx == nil {
		ctx = context.Background()
	}
	store, client, err := core.OpenStore(opts.storePath, opts.redisAddr, opts.redisKey)
	if err != nil {
		logger.Error("open credential store", "err", err)
		return 0
	}
	if client != nil {
		defer client.Close()
	}
	return core.NewReaper(store, opts.window, logger, nil).Reap(ctx, now)
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
