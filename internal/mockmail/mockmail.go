// Package mockmail runs a local stand-in for the Addy mail API so the
// delivery path can be exercised end to end without real credentials. Every
// captured message overwrites addy_mock.json in the data dir for
// inspection.
package mockmail

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"permitwatch/internal/middleware"
)

// maxBodyBytes caps captured request bodies. Digests with inlined images
// run large, so the cap is generous.
const maxBodyBytes = 64 << 20

// CaptureFile is the file name messages are written to inside the data dir.
const CaptureFile = "addy_mock.json"

// capture is what gets persisted for each received message.
type capture struct {
	Path    string      `json:"path"`
	Headers http.Header `json:"headers"`
	Payload any         `json:"payload"`
}

// Server implements the subset of the mail API the pipeline talks to.
type Server struct {
	router  chi.Router
	dataDir string
	logger  *zap.Logger
}

// NewServer constructs a Server writing captures into dataDir.
func NewServer(dataDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{dataDir: dataDir, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Post("/v1/messages", s.receiveMessage)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CapturePath returns where the last message was written.
func (s *Server) CapturePath() string {
	return filepath.Join(s.dataDir, CaptureFile)
}

func (s *Server) receiveMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	// Unparsable bodies are preserved raw so a broken sender can still be
	// debugged from the capture.
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = string(body)
	}

	if err := s.persist(capture{Path: r.URL.Path, Headers: r.Header, Payload: payload}); err != nil {
		s.logger.Error("mock mail capture failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "capture failed"})
		return
	}

	s.logger.Info("mock mail captured",
		zap.String("file", s.CapturePath()),
		zap.Int("bytes", len(body)),
	)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) persist(c capture) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode capture: %w", err)
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(s.CapturePath(), data, 0o644); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}
