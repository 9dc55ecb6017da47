package github_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	githubclient "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/github"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func TestParseRepoURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		url       string
		owner     string
		repo      string
		expectErr bool
	}{
		{"https form", "https://github.com/octocat/hello", "octocat", "hello", false},
		{"git suffix", "https://github.com/octocat/hello.git", "octocat", "hello", false},
		{"ssh form", "git@github.com:octocat/hello.git", "octocat", "hello", false},
		{"trailing path", "https://github.com/octocat/hello/tree/main", "octocat", "hello", false},
		{"wrong host", "https://gitlab.com/octocat/hello", "", "", true},
		{"missing repo", "https://github.com/octocat", "", "", true},
		{"empty", "", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			owner, repo, err := githubclient.ParseRepoURL(tc.url)
			if tc.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.owner, owner)
			assert.Equal(t, tc.repo, repo)
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *githubclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return githubclient.New(srv.URL, "test-token", 5*time.Second)
}

func TestGetPullRequest(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello/pulls/7", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number": 7, "title": "Add feature", "state": "open",
			"user": map[string]any{"login": "alice"},
			"base": map[string]any{"ref": "main", "sha": "abc"},
			"head": map[string]any{"ref": "feat", "sha": "def"},
			"changed_files": 3,
		})
	})

	pr, err := c.GetPullRequest(context.Background(), "https://github.com/octocat/hello", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "Add feature", pr.Title)
	assert.Equal(t, "alice", pr.Author)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Equal(t, "def", pr.HeadSHA)
	assert.Equal(t, 3, pr.ChangedFiles)
}

func TestGetPullRequestNotFound(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetPullRequest(context.Background(), "https://github.com/o/r", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPullRequestRateLimited(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := c.GetPullRequest(context.Background(), "https://github.com/o/r", 1)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGetPullRequestUnauthorized(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.GetPullRequest(context.Background(), "https://github.com/o/r", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGetPRFilesPagination(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		var files []map[string]any
		n := 100
		if page == "2" {
			n = 30
		}
		for i := 0; i < n; i++ {
			files = append(files, map[string]any{
				"filename": fmt.Sprintf("f%s_%d.py", page, i), "status": "modified",
				"additions": 1, "deletions": 0, "patch": "+x",
			})
		}
		_ = json.NewEncoder(w).Encode(files)
	})

	files, err := c.GetPRFiles(context.Background(), "https://github.com/o/r", 1)
	require.NoError(t, err)
	assert.Len(t, files, 130)
	assert.Equal(t, "modified", files[0].Status)
}

func TestGetFileContent(t *testing.T) {
	t.Parallel()

	t.Run("decodes base64", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "abc", r.URL.Query().Get("ref"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte("print('hi')\n")),
			})
		})
		got, err := c.GetFileContent(context.Background(), "https://github.com/o/r", "main.py", "abc")
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", got)
	})

	t.Run("missing file yields empty string", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		got, err := c.GetFileContent(context.Background(), "https://github.com/o/r", "gone.py", "abc")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
