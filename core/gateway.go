package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultClassifyTimeout = 30 * time.Second

// Gateway runs a single classify request: authorize, accept the upload,
// call the classifier, map the outcome. Every failure is terminal.
type Gateway struct {
	validator  *Validator
	classifier Classifier
	uploadDir  string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

type GatewayConfig struct {
	Validator  *Validator
	Classifier Classifier
	UploadDir  string
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *Metrics
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		validator:  cfg.Validator,
		classifier: cfg.Classifier,
		uploadDir:  cfg.UploadDir,
		timeout:    timeout,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Authorize returns ErrUnauthorized for an unknown credential. Transports
// call it before reading the upload so unauthenticated callers cost no more
// than the store scan.
func (g *Gateway) Authorize(ctx context.Context, credentialID string) error {
	err := g.authorize(ctx, credentialID)
	if err != nil {
		g.metrics.classified(outcome(err))
	}
	return err
}

func (g *Gateway) authorize(ctx context.Context, credentialID string) error {
	ok, err := g.validator.IsValid(ctx, credentialID)
	if err != nil {
		g.logger.Error("credential lookup failed", "err", err)
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (g *Gateway) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	res, err := g.classify(ctx, req)
	g.metrics.classified(outcome(err))
	return res, err
}

// ClassifyAuthorized is Classify for a credential the caller has already
// passed through Authorize; it skips the second store scan.
func (g *Gateway) ClassifyAuthorized(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	res, err := g.process(ctx, req)
	g.metrics.classified(outcome(err))
	return res, err
}

func (g *Gateway) classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	if err := g.authorize(ctx, req.CredentialID); err != nil {
		return ClassifyResult{}, err
	}
	return g.process(ctx, req)
}

func (g *Gateway) process(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	if len(req.Image) == 0 {
		return ClassifyResult{}, ErrBadRequest
	}

	name := uploadName(req.Filename)
	imagePath := filepath.Join(g.uploadDir, name)
	if err := os.WriteFile(imagePath, req.Image, 0o600); err != nil {
		return ClassifyResult{}, fmt.Errorf("%w: save upload: %w", ErrStorage, err)
	}

	label, err := g.callClassifier(ctx, imagePath)
	if err != nil {
		g.logger.Warn("classification failed", "file", name, "err", err)
		return ClassifyResult{}, &ClassificationError{Err: err}
	}

	filename := req.Filename
	if filename == "" {
		filename = name
	}
	return ClassifyResult{Filename: filename, Classification: label}, nil
}

type classifierOutcome struct {
	label string
	err   error
}

// callClassifier gives up at the deadline even when the classifier ignores
// its context; the abandoned call finishes in the background.
func (g *Gateway) callClassifier(ctx context.Context, imagePath string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	defer func() { g.metrics.classifierLatency(time.Since(start)) }()

	done := make(chan classifierOutcome, 1)
	go func() {
		var out classifierOutcome
		defer func() {
			if v := recover(); v != nil {
				out = classifierOutcome{err: fmt.Errorf("classifier panicked: %v", v)}
			}
			done <- out
		}()
		out.label, out.err = g.classifier.Classify(cctx, imagePath)
	}()

	select {
	case out := <-done:
		if out.err == nil && cctx.Err() != nil {
			return "", cctx.Err()
		}
		return out.label, out.err
	case <-cctx.Done():
		return "", cctx.Err()
	}
}

// uploadName strips any directory components from a client supplied name.
func uploadName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload-" + uuid.NewString()
	}
	return name
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "classified"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrClassification):
		return "classification_error"
	default:
		return "storage_error"
	}
}
