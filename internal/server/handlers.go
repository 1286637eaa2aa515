package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/registry"
	"github.com/raphaelgruber/movie-recommender/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// filterParams are the optional filter fields shared by recommend requests.
// Absent fields keep the default bounds.
type filterParams struct {
	ModelName     string   `json:"model_name" validate:"required"`
	TopK          int      `json:"top_k" validate:"gt=0"`
	DateFrom      string   `json:"date_from" validate:"datetime=2006-01-02"`
	DateTo        string   `json:"date_to" validate:"datetime=2006-01-02"`
	MinPopularity float64  `json:"min_popularity"`
	MaxPopularity float64  `json:"max_popularity"`
	MinRating     float64  `json:"min_rating"`
	MaxRating     float64  `json:"max_rating"`
	ExcludeTitles []string `json:"exclude_titles,omitempty"`
}

func defaultFilterParams() filterParams {
	return filterParams{
		TopK:          models.DefaultTopK,
		DateFrom:      models.DefaultDateFrom.Format(models.DateLayout),
		DateTo:        models.DefaultDateTo.Format(models.DateLayout),
		MinPopularity: models.DefaultMinPopularity,
		MaxPopularity: models.DefaultMaxPopularity,
		MinRating:     models.DefaultMinRating,
		MaxRating:     models.DefaultMaxRating,
	}
}

// request converts validated params into a service request.
func (p filterParams) request(sentence string) (service.Request, error) {
	from, err := time.Parse(models.DateLayout, p.DateFrom)
	if err != nil {
		return service.Request{}, fmt.Errorf("%w: date_from: %w", models.ErrInvalidInput, err)
	}
	to, err := time.Parse(models.DateLayout, p.DateTo)
	if err != nil {
		return service.Request{}, fmt.Errorf("%w: date_to: %w", models.ErrInvalidInput, err)
	}

	req := service.NewRequest(sentence, p.ModelName)
	req.TopK = p.TopK
	req.Filter.DateFrom = from
	req.Filter.DateTo = to
	req.Filter.MinPopularity = p.MinPopularity
	req.Filter.MaxPopularity = p.MaxPopularity
	req.Filter.MinRating = p.MinRating
	req.Filter.MaxRating = p.MaxRating
	req.Filter.Exclude(p.ExcludeTitles...)
	return req, nil
}

type recommendRequest struct {
	Sentence string `json:"sentence"`
	filterParams
}

type similarRequest struct {
	Title string `json:"title" validate:"required"`
	filterParams
}

type embeddingJobRequest struct {
	ModelName  string `json:"model_name" validate:"required"`
	OutputPath string `json:"output_path,omitempty"`
}

type modelsResponse struct {
	Models map[string]modelconfig.ModelConfig `json:"models"`
	Loaded []registry.LoadedModel             `json:"loaded"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Movie Recommender API."})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	body := recommendRequest{filterParams: defaultFilterParams()}
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.request(body.Sentence)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	resp, err := s.rec.Recommend(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	body := similarRequest{filterParams: defaultFilterParams()}
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.request("")
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	resp, err := s.rec.RecommendByMovie(ctx, body.Title, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := s.rec.ListTitles(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"titles": titles})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Models: s.rec.ModelConfigs(),
		Loaded: s.rec.LoadedModels(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	names, err := s.rec.ReloadConfiguration(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": names})
}

func (s *Server) handleCacheKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"keys": s.rec.CacheKeys()})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.rec.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStartEmbeddingJob(w http.ResponseWriter, r *http.Request) {
	var body embeddingJobRequest
	if !s.decode(w, r, &body) {
		return
	}
	job, err := s.rec.StartEmbeddingJob(body.ModelName, body.OutputPath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.rec.Jobs().ListJobs()
	infos := make([]service.JobInfo, len(jobs))
	for i, j := range jobs {
		infos[i] = j.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string][]service.JobInfo{"jobs": infos})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.rec.Jobs().GetJob(id)
	if job == nil {
		s.writeError(w, fmt.Errorf("%w: job %s", models.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Collector == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Collector.Snapshot())
}

// decode reads and validates a JSON body into dst. On failure it writes a
// 400 response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON body: %w", models.ErrInvalidInput, err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: %s", models.ErrInvalidInput, validationMessage(err)))
		return false
	}
	return true
}

// validationMessage lists the offending fields by their JSON names.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		parts[i] = fmt.Sprintf("%s failed %s", jsonName(fe.Field()), fe.Tag())
	}
	return strings.Join(parts, "; ")
}

var jsonNames = map[string]string{
	"Title":      "title",
	"ModelName":  "model_name",
	"TopK":       "top_k",
	"DateFrom":   "date_from",
	"DateTo":     "date_to",
	"OutputPath": "output_path",
}

func jsonName(field string) string {
	if n, ok := jsonNames[field]; ok {
		return n
	}
	return field
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

// writeJSON encodes v before writing the header. Encoding failures are
// answered with a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Detail: fmt.Sprintf("encode response: %s", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
