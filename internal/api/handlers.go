package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"permitwatch/internal/store"
)

const (
	defaultListLimit = 25
	maxListLimit     = 200
	handlerTimeout   = 3 * time.Second
)

// storeReader is the read-only slice of the record store the API needs.
type storeReader interface {
	RecentPermits(ctx context.Context, limit int) ([]store.Permit, error)
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// readyz reports ready only when the store answers, so a wedged database
// shows up on probes instead of at the next scheduled run.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	if _, err := s.store.RecentRuns(ctx, 1); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recentPermits handles GET /v1/permits/recent?limit=N.
func (s *Server) recentPermits(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	permits, err := s.store.RecentPermits(ctx, limit)
	if err != nil {
		s.logger.Error("list recent permits failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list permits")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"permits": toPermitDTOs(permits)})
}

// recentRuns handles GET /v1/runs/recent?limit=N.
func (s *Server) recentRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	runs, err := s.store.RecentRuns(ctx, limit)
	if err != nil {
		s.logger.Error("list recent runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

type permitDTO struct {
	PermitNumber  string         `json:"permit_number"`
	Address       string         `json:"address"`
	Lat           *float64       `json:"lat,omitempty"`
	Lon           *float64       `json:"lon,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	ThumbnailPath string         `json:"thumbnail_path,omitempty"`
	ScrapedAt     time.Time      `json:"scraped_at"`
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Pages      int        `json:"pages"`
	Links      int        `json:"links"`
	Items      int        `json:"items"`
	Errors     int        `json:"errors"`
	Note       string     `json:"note,omitempty"`
}

func toPermitDTOs(in []store.Permit) []permitDTO {
	out := make([]permitDTO, 0, len(in))
	for _, p := range in {
		out = append(out, permitDTO{
			PermitNumber:  p.PermitNumber,
			Address:       p.Address,
			Lat:           p.Lat,
			Lon:           p.Lon,
			Details:       p.Details,
			ThumbnailPath: p.ThumbnailPath,
			ScrapedAt:     p.ScrapedAt,
		})
	}
	return out
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, r := range in {
		out = append(out, runDTO{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Status:     r.Status,
			Pages:      r.Pages,
			Links:      r.Links,
			Items:      r.Items,
			Errors:     r.Errors,
			Note:       r.Note,
		})
	}
	return out
}
