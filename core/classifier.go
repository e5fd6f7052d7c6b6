package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Classifier turns a stored image into a label. Implementations are
// untrusted: the gateway wraps whatever they return or panic with.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (string, error)
}

type ClassifierFunc func(ctx context.Context, imagePath string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, imagePath string) (string, error) {
	return f(ctx, imagePath)
}

const (
	DefaultPositiveLabel = "You have sent a Cat 🐱"
	DefaultNegativeLabel = "You have sent a Dog 🐶"
	scoreThreshold       = 0.5
)

// RemoteClassifier posts the image to a model server. The server answers
// either {"label": "..."} or a sigmoid {"score": 0.83}, which is mapped to
// PositiveLabel when above 0.5 and NegativeLabel otherwise.
type RemoteClassifier struct {
	URL           string
	Client        *http.Client
	PositiveLabel string
	NegativeLabel string
}

type remotePrediction struct {
	Label string   `json:"label"`
	Score *float64 `json:"score"`
	Error string   `json:"error"`
}

func NewRemoteClassifier(url string, client *http.Client) *RemoteClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteClassifier{
		URL:           url,
		Client:        client,
		PositiveLabel: DefaultPositiveLabel,
		NegativeLabel: DefaultNegativeLabel,
	}
}

func (c *RemoteClassifier) Classify(ctx context.Context, imagePath string) (string, error) {
	if c.URL == "" {
		return "", fmt.Errorf("classifier url is required")
	}
	body, contentType, err := multipartImage(imagePath)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, body)
	if err != nil {
		return "", fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read classifier response: %w", err)
	}
	var pred remotePrediction
	if err := json.Unmarshal(raw, &pred); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode classifier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := pred.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("classifier returned %d: %s", resp.StatusCode, msg)
	}
	return c.label(pred)
}

func (c *RemoteClassifier) label(pred remotePrediction) (string, error) {
	if pred.Label != "" {
		return pred.Label, nil
	}
	if pred.Score == nil {
		return "", fmt.Errorf("classifier response has neither label nor score")
	}
	if *pred.Score > scoreThreshold {
		return orDefault(c.PositiveLabel, DefaultPositiveLabel), nil
	}
	return orDefault(c.NegativeLabel, DefaultNegativeLabel), nil
}

func multipartImage(imagePath string) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
