package openrouter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/ai/openrouter"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		msgs := req["messages"].([]any)
		assert.Len(t, msgs, 2)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL, key string) config.Config {
	return config.Config{
		AppEnv:     "test",
		LLMAPIKey:  key,
		LLMBaseURL: baseURL,
		LLMModel:   "test/model",
	}
}

func TestAnalyzeQualityParsesJSON(t *testing.T) {
	body := `{"score": 6.5, "issues": [{"type":"style","severity":"low","description":"long line","line":3}],
		"suggestions": [{"type":"readability","priority":"low","description":"split function"}],
		"metrics": {"maintainability": 7, "readability": 6, "complexity": 5}}`
	srv := chatServer(t, body)
	c := openrouter.New(testConfig(srv.URL, "key"))

	res, err := c.AnalyzeQuality(context.Background(), "code", "main.py", "python")
	require.NoError(t, err)
	assert.InDelta(t, 6.5, res.Score, 1e-9)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "style", res.Issues[0].Type)
	assert.InDelta(t, 7, res.Maintainability, 1e-9)
	assert.False(t, res.Degraded)
}

func TestAnalyzeQualityStripsCodeFence(t *testing.T) {
	body := "```json\n{\"score\": 9, \"metrics\": {\"maintainability\": 9, \"readability\": 9, \"complexity\": 3}}\n```"
	srv := chatServer(t, body)
	c := openrouter.New(testConfig(srv.URL, "key"))

	res, err := c.AnalyzeQuality(context.Background(), "code", "main.py", "python")
	require.NoError(t, err)
	assert.InDelta(t, 9, res.Score, 1e-9)
}

func TestAnalyzeQualityWrapsNonJSON(t *testing.T) {
	srv := chatServer(t, "The code looks fine overall.")
	c := openrouter.New(testConfig(srv.URL, "key"))

	res, err := c.AnalyzeQuality(context.Background(), "code", "main.py", "python")
	require.NoError(t, err)
	assert.InDelta(t, 7.5, res.Score, 1e-9)
	require.Len(t, res.Suggestions, 1)
	assert.Contains(t, res.Suggestions[0].Description, "looks fine")
}

func TestAnalyzeQualityDegradesWithoutKey(t *testing.T) {
	c := openrouter.New(testConfig("http://localhost:0", ""))
	res, err := c.AnalyzeQuality(context.Background(), "code", "main.py", "python")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.InDelta(t, 8.0, res.Score, 1e-9)
}

func TestAnalyzeQualityDegradesOnPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	c := openrouter.New(testConfig(srv.URL, "key"))

	res, err := c.AnalyzeQuality(context.Background(), "code", "main.py", "python")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestAnalyzeSecurity(t *testing.T) {
	body := `[{"type":"sql_injection","severity":"critical","title":"SQLi","description":"raw query","line":12,"recommendation":"use params"}]`
	srv := chatServer(t, body)
	c := openrouter.New(testConfig(srv.URL, "key"))

	issues, err := c.AnalyzeSecurity(context.Background(), "code", "db.py", "python")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "critical", issues[0].Severity)
	assert.Equal(t, 12, issues[0].Line)
}

func TestAnalyzeSecurityUnparseableYieldsEmpty(t *testing.T) {
	srv := chatServer(t, "no issues found")
	c := openrouter.New(testConfig(srv.URL, "key"))

	issues, err := c.AnalyzeSecurity(context.Background(), "code", "db.py", "python")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestGenerateSuggestionsDegradedWithoutKey(t *testing.T) {
	c := openrouter.New(testConfig("http://localhost:0", ""))
	suggestions, err := c.GenerateSuggestions(context.Background(), "code", "main.py", "python")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "info", suggestions[0].Type)
}

var _ domain.LLMAnalyzer = (*openrouter.Client)(nil)
