package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tunaaoguzhann/classify-access/core"
)

type contextKey string

const subjectKey contextKey = "subject"

const (
	credentialCreatedMsg = "Credential created successfully. Use this credential to access the /classify/ endpoint."
	classifiedMsg        = "Image classified successfully."
	invalidCredentialMsg = "The provided credential is not valid. Please obtain a valid credential from the /credentials/ endpoint."
	noImageMsg           = "No image file sent. Please upload an image file."
)

func newRouter(manager *core.Manager, cfg config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Group(func(issue chi.Router) {
		if cfg.JWTSecret != "" {
			issue.Use(jwtAuth(cfg.JWTSecret))
		}
		issue.Get("/credentials/", handleIssue(manager))
		issue.Post("/credentials/", handleIssue(manager))
	})
	r.Post("/classify/", handleClassify(manager, cfg.MaxUploadBytes))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", manager.Metrics().Handler())
	return r
}

type credentialResponse struct {
	Credential string `json:"credential"`
	Timestamp  string `json:"timestamp"`
	Message    string `json:"message"`
}

type classifyResponse struct {
	Filename       string `json:"filename"`
	Classification string `json:"classification"`
	Message        string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func handleIssue(manager *core.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, ok := r.Context().Value(subjectKey).(string)
		if !ok || client == "" {
			client = clientAddr(r)
		}

		c, err := manager.Issue(r.Context(), client)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, credentialResponse{
			Credential: c.ID,
			Timestamp:  c.IssuedAt.Format(time.RFC3339Nano),
			Message:    credentialCreatedMsg,
		})
	}
}

func handleClassify(manager *core.Manager, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := strings.TrimSpace(r.Header.Get("credential"))
		if err := manager.Authorize(r.Context(), credential); err != nil {
			writeCoreError(w, err)
			return
		}

		image, filename, err := readUpload(w, r, maxUpload)
		if err != nil {
			writeCoreError(w, err)
			return
		}

		res, err := manager.ClassifyAuthorized(r.Context(), core.ClassifyRequest{
			CredentialID: credential,
			Image:        image,
			Filename:     filename,
		})
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, classifyResponse{
			Filename:       res.Filename,
			Classification: res.Classification,
			Message:        classifiedMsg,
		})
	}
}

// readUpload pulls the "file" part out of a multipart body. A missing part
// comes back as an empty image so the gateway reports it uniformly.
func readUpload(w http.ResponseWriter, r *http.Request, maxUpload int64) ([]byte, string, error) {
	if maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", core.ErrBadRequest
		}
		return nil, "", nil
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		return nil, "", core.ErrBadRequest
	}
	return image, header.Filename, nil
}

func writeCoreError(w http.ResponseWriter, err error) {
	var classErr *core.ClassificationError
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid credential", Message: invalidCredentialMsg})
	case errors.Is(err, core.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Bad Request", Message: noImageMsg})
	case errors.As(err, &classErr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Classification error", Message: classErr.Error()})
	case errors.Is(err, core.ErrRateLimitExceeded):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too Many Requests", Message: "Credential issue limit reached. Try again later."})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Storage error", Message: "The credential store is unavailable."})
	}
}

// --- middleware & helpers ---

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).Round(time.Microsecond),
			)
		})
	}
}

func jwtAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Message: "missing bearer token"})
				return
			}
			raw := strings.TrimSpace(auth[7:])
			subject, err := parseAndValidateJWT(raw, secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Message: "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseAndValidateJWT(tokenStr, secret string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid jwt")
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
