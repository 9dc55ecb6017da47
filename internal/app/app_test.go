package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/app"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{"https://a.example", []string{"https://a.example"}},
		{"https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
		{" , ", []string{"*"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, app.ParseOrigins(tc.in))
		})
	}
}

func TestBuildReadinessChecks(t *testing.T) {
	t.Parallel()
	cfg := config.Config{}
	db, redis, broker := app.BuildReadinessChecks(cfg, nil, nil, nil)
	assert.Error(t, db(context.Background()))
	assert.Error(t, redis(context.Background()))
	assert.Error(t, broker(context.Background()))

	ok := pingerFunc(func(context.Context) error { return nil })
	db, redis, broker = app.BuildReadinessChecks(cfg, ok, ok, ok)
	assert.NoError(t, db(context.Background()))
	assert.NoError(t, redis(context.Background()))
	assert.NoError(t, broker(context.Background()))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type sweeperRepoStub struct {
	stuck     []domain.Task
	listErr   error
	updateErr error
	failedIDs []string
}

func (r *sweeperRepoStub) Create(_ domain.Context, _ domain.Task) (string, error) { return "", nil }
func (r *sweeperRepoStub) Get(_ domain.Context, _ string) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}
func (r *sweeperRepoStub) UpdateStatus(_ domain.Context, id string, status domain.TaskStatus, _ *string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if status == domain.TaskFailed {
		r.failedIDs = append(r.failedIDs, id)
	}
	return nil
}
func (r *sweeperRepoStub) UpdateProgress(_ domain.Context, _ string, _ int) error { return nil }
func (r *sweeperRepoStub) MarkStarted(_ domain.Context, _, _ string) error        { return nil }
func (r *sweeperRepoStub) SetPRMeta(_ domain.Context, _, _, _ string) error       { return nil }
func (r *sweeperRepoStub) IncrementRetry(_ domain.Context, _ string) (domain.Task, error) {
	return domain.Task{}, nil
}
func (r *sweeperRepoStub) ListStuckProcessing(_ domain.Context, _ time.Time) ([]domain.Task, error) {
	return r.stuck, r.listErr
}

func TestStuckTaskSweeperMarksStaleTasksFailed(t *testing.T) {
	t.Parallel()
	repo := &sweeperRepoStub{stuck: []domain.Task{
		{ID: "t-1", Status: domain.TaskProcessing, UpdatedAt: time.Now().Add(-time.Hour)},
		{ID: "t-2", Status: domain.TaskProcessing, UpdatedAt: time.Now().Add(-30 * time.Minute)},
	}}
	sweeper := app.NewStuckTaskSweeper(repo, 15*time.Minute, time.Minute)
	require.NotNil(t, sweeper)

	failed := sweeper.SweepOnce(context.Background())
	assert.Equal(t, 2, failed)
	assert.Equal(t, []string{"t-1", "t-2"}, repo.failedIDs)
}

func TestStuckTaskSweeperToleratesConflicts(t *testing.T) {
	t.Parallel()
	repo := &sweeperRepoStub{
		stuck:     []domain.Task{{ID: "t-1", Status: domain.TaskProcessing}},
		updateErr: domain.ErrConflict,
	}
	sweeper := app.NewStuckTaskSweeper(repo, 15*time.Minute, time.Minute)

	failed := sweeper.SweepOnce(context.Background())
	assert.Zero(t, failed)
	assert.Empty(t, repo.failedIDs)
}

func TestStuckTaskSweeperListFailure(t *testing.T) {
	t.Parallel()
	repo := &sweeperRepoStub{listErr: errors.New("db down")}
	sweeper := app.NewStuckTaskSweeper(repo, 0, 0)

	assert.Zero(t, sweeper.SweepOnce(context.Background()))
}

func TestStuckTaskSweeperNilRepo(t *testing.T) {
	t.Parallel()
	assert.Nil(t, app.NewStuckTaskSweeper(nil, time.Minute, time.Minute))
}

type routerQueueStub struct{}

func (routerQueueStub) EnqueueAnalyze(_ domain.Context, p domain.AnalyzeTaskPayload) (string, error) {
	return p.TaskID, nil
}

type routerProgressStub struct{}

func (routerProgressStub) Set(_ domain.Context, _, _ string, _ int) error { return nil }
func (routerProgressStub) Get(_ domain.Context, _ string) (string, int, error) {
	return "", 0, domain.ErrNotFound
}
func (routerProgressStub) Clear(_ domain.Context, _ string) error { return nil }

type routerAnalysisStub struct{}

func (routerAnalysisStub) Create(_ domain.Context, _ domain.PRAnalysis) (string, error) {
	return "", nil
}
func (routerAnalysisStub) Get(_ domain.Context, _ string) (domain.PRAnalysis, error) {
	return domain.PRAnalysis{}, domain.ErrNotFound
}
func (routerAnalysisStub) FindByTaskID(_ domain.Context, _ string) (domain.PRAnalysis, error) {
	return domain.PRAnalysis{}, domain.ErrNotFound
}
func (routerAnalysisStub) SaveFileAnalysis(_ domain.Context, _ domain.FileAnalysis, _ []domain.Issue) (string, error) {
	return "", nil
}
func (routerAnalysisStub) ReplaceChildren(_ domain.Context, _ string) error     { return nil }
func (routerAnalysisStub) Complete(_ domain.Context, _ domain.PRAnalysis) error { return nil }
func (routerAnalysisStub) Fail(_ domain.Context, _, _ string) error             { return nil }
func (routerAnalysisStub) ListFileAnalyses(_ domain.Context, _ string) ([]domain.FileAnalysis, error) {
	return nil, nil
}
func (routerAnalysisStub) ListIssues(_ domain.Context, _ string) ([]domain.Issue, error) {
	return nil, nil
}
func (routerAnalysisStub) Heartbeat(_ domain.Context, _ string) error { return nil }

func newRouterTestServer() *httpserver.Server {
	tasks := &sweeperRepoStub{}
	ok := func(context.Context) error { return nil }
	return httpserver.NewServer(
		config.Config{},
		usecase.NewSubmitService(tasks, routerQueueStub{}, 3),
		usecase.NewStatusService(tasks, routerProgressStub{}),
		usecase.NewResultService(tasks, routerAnalysisStub{}),
		ok, ok, ok,
	)
}

func TestBuildRouterServesHealthAndSecurityHeaders(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 30}
	handler := app.BuildRouter(cfg, newRouterTestServer())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestBuildRouterUnknownRoute(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 30}
	handler := app.BuildRouter(cfg, newRouterTestServer())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
