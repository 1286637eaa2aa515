package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/client"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/raphaelgruber/movie-recommender/internal/service"
)

// backend is what commands need from the recommender, either in-process or
// over HTTP. *client.Client satisfies it directly.
type backend interface {
	Recommend(ctx context.Context, sentence string, q client.Query) (*service.Response, error)
	Similar(ctx context.Context, title string, q client.Query) (*service.Response, error)
	Titles(ctx context.Context) ([]string, error)
	Models(ctx context.Context) (*client.ModelsResponse, error)
	Reload(ctx context.Context) ([]string, error)
	CacheKeys(ctx context.Context) ([]string, error)
	ClearCache(ctx context.Context) error
	StartEmbeddingJob(ctx context.Context, model, outputPath string) (*service.JobInfo, error)
	GetJob(ctx context.Context, id string) (*service.JobInfo, error)
	ListJobs(ctx context.Context) ([]service.JobInfo, error)
}

var _ backend = (*client.Client)(nil)

// localBackend runs commands against an in-process recommender.
type localBackend struct {
	rec *service.Recommender
}

var _ backend = (*localBackend)(nil)

// toRequest applies the set fields of q on top of the default request.
func toRequest(sentence string, q client.Query) (service.Request, error) {
	req := service.NewRequest(sentence, q.ModelName)
	if q.TopK != nil {
		req.TopK = *q.TopK
	}
	if q.DateFrom != nil {
		t, err := time.Parse(models.DateLayout, *q.DateFrom)
		if err != nil {
			return service.Request{}, fmt.Errorf("%w: date_from: %w", models.ErrInvalidInput, err)
		}
		req.Filter.DateFrom = t
	}
	if q.DateTo != nil {
		t, err := time.Parse(models.DateLayout, *q.DateTo)
		if err != nil {
			return service.Request{}, fmt.Errorf("%w: date_to: %w", models.ErrInvalidInput, err)
		}
		req.Filter.DateTo = t
	}
	if q.MinPopularity != nil {
		req.Filter.MinPopularity = *q.MinPopularity
	}
	if q.MaxPopularity != nil {
		req.Filter.MaxPopularity = *q.MaxPopularity
	}
	if q.MinRating != nil {
		req.Filter.MinRating = *q.MinRating
	}
	if q.MaxRating != nil {
		req.Filter.MaxRating = *q.MaxRating
	}
	req.Filter.Exclude(q.ExcludeTitles...)
	return req, nil
}

func (l *localBackend) Recommend(ctx context.Context, sentence string, q client.Query) (*service.Response, error) {
	req, err := toRequest(sentence, q)
	if err != nil {
		return nil, err
	}
	return l.rec.Recommend(ctx, req)
}

func (l *localBackend) Similar(ctx context.Context, title string, q client.Query) (*service.Response, error) {
	req, err := toRequest("", q)
	if err != nil {
		return nil, err
	}
	return l.rec.RecommendByMovie(ctx, title, req)
}

func (l *localBackend) Titles(ctx context.Context) ([]string, error) {
	return l.rec.ListTitles(ctx)
}

func (l *localBackend) Models(context.Context) (*client.ModelsResponse, error) {
	return &client.ModelsResponse{
		Models: l.rec.ModelConfigs(),
		Loaded: l.rec.LoadedModels(),
	}, nil
}

func (l *localBackend) Reload(ctx context.Context) ([]string, error) {
	return l.rec.ReloadConfiguration(ctx)
}

func (l *localBackend) CacheKeys(context.Context) ([]string, error) {
	return l.rec.CacheKeys(), nil
}

func (l *localBackend) ClearCache(context.Context) error {
	l.rec.ClearCache()
	return nil
}

func (l *localBackend) StartEmbeddingJob(_ context.Context, model, outputPath string) (*service.JobInfo, error) {
	job, err := l.rec.StartEmbeddingJob(model, outputPath)
	if err != nil {
		return nil, err
	}
	info := job.Snapshot()
	return &info, nil
}

func (l *localBackend) GetJob(_ context.Context, id string) (*service.JobInfo, error) {
	job := l.rec.Jobs().GetJob(id)
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	info := job.Snapshot()
	return &info, nil
}

func (l *localBackend) ListJobs(context.Context) ([]service.JobInfo, error) {
	jobs := l.rec.Jobs().ListJobs()
	infos := make([]service.JobInfo, len(jobs))
	for i, j := range jobs {
		infos[i] = j.Snapshot()
	}
	return infos, nil
}
