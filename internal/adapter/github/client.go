// Package github implements the code-host client for the GitHub REST API.
package github

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

const (
	perPage = 100
	// maxPages bounds the changed-file listing to 5000 files.
	maxPages = 50
)

// Client talks to the GitHub REST API v3.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New constructs a Client. The token is optional; unauthenticated requests
// work against public repositories with lower rate limits.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ParseRepoURL extracts owner and repo from a GitHub repository URL.
// Accepts https://github.com/owner/repo[.git] and git@github.com:owner/repo[.git].
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	if strings.HasPrefix(repoURL, "git@github.com:") {
		repoURL = "https://github.com/" + strings.TrimPrefix(repoURL, "git@github.com:")
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("op=github.parse_repo_url url=%q: %w", repoURL, domain.ErrInvalidArgument)
	}
	if u.Hostname() != "github.com" {
		return "", "", fmt.Errorf("op=github.parse_repo_url host=%q: %w", u.Hostname(), domain.ErrInvalidArgument)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("op=github.parse_repo_url path=%q: %w", u.Path, domain.ErrInvalidArgument)
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	return owner, repo, nil
}

func (c *Client) get(ctx domain.Context, endpoint string, params url.Values, out any) error {
	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("op=github.request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("op=github.request endpoint=%s: %w: %v", endpoint, domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return fmt.Errorf("op=github.request endpoint=%s: %w", endpoint, domain.ErrRateLimited)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("op=github.request endpoint=%s status=%d: %w", endpoint, resp.StatusCode, domain.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("op=github.request endpoint=%s: %w", endpoint, domain.ErrNotFound)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("op=github.request endpoint=%s status=%d body=%q: %w", endpoint, resp.StatusCode, string(body), domain.ErrUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("op=github.decode endpoint=%s: %w", endpoint, err)
	}
	return nil
}

type prResponse struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	URL    string `json:"html_url"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Base struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	ChangedFiles int `json:"changed_files"`
}

// GetPullRequest fetches PR metadata.
func (c *Client) GetPullRequest(ctx domain.Context, repoURL string, prNumber int) (domain.PullRequest, error) {
	tracer := otel.Tracer("adapter.github")
	ctx, span := tracer.Start(ctx, "github.GetPullRequest")
	defer span.End()
	span.SetAttributes(attribute.Int("pr.number", prNumber))

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return domain.PullRequest{}, err
	}
	var pr prResponse
	endpoint := fmt.Sprintf("repos/%s/%s/pulls/%d", owner, repo, prNumber)
	if err := c.get(ctx, endpoint, nil, &pr); err != nil {
		return domain.PullRequest{}, err
	}
	slog.Info("pull request fetched",
		slog.String("owner", owner), slog.String("repo", repo),
		slog.Int("pr_number", prNumber), slog.Int("changed_files", pr.ChangedFiles))
	return domain.PullRequest{
		Number:       pr.Number,
		Title:        pr.Title,
		Body:         pr.Body,
		Author:       pr.User.Login,
		State:        pr.State,
		URL:          pr.URL,
		BaseBranch:   pr.Base.Ref,
		HeadBranch:   pr.Head.Ref,
		BaseSHA:      pr.Base.SHA,
		HeadSHA:      pr.Head.SHA,
		ChangedFiles: pr.ChangedFiles,
	}, nil
}

type fileResponse struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// GetPRFiles lists all changed files of a PR, paging through the API up to
// the 5000-file cap. Hitting the cap logs a truncation warning.
func (c *Client) GetPRFiles(ctx domain.Context, repoURL string, prNumber int) ([]domain.ChangedFile, error) {
	tracer := otel.Tracer("adapter.github")
	ctx, span := tracer.Start(ctx, "github.GetPRFiles")
	defer span.End()

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("repos/%s/%s/pulls/%d/files", owner, repo, prNumber)

	var out []domain.ChangedFile
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", fmt.Sprintf("%d", page))
		params.Set("per_page", fmt.Sprintf("%d", perPage))

		var files []fileResponse
		if err := c.get(ctx, endpoint, params, &files); err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, domain.ChangedFile{
				Filename:  f.Filename,
				Status:    f.Status,
				Additions: f.Additions,
				Deletions: f.Deletions,
				Patch:     f.Patch,
			})
		}
		if len(files) < perPage {
			break
		}
		if page >= maxPages {
			slog.Warn("pr file listing truncated",
				slog.String("owner", owner), slog.String("repo", repo),
				slog.Int("pr_number", prNumber), slog.Int("files", len(out)))
			break
		}
	}
	return out, nil
}

type contentResponse struct {
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContent fetches a file's body at the given ref. A missing file
// yields an empty string rather than an error: deleted and renamed-away
// paths are normal in PR diffs.
func (c *Client) GetFileContent(ctx domain.Context, repoURL, path, ref string) (string, error) {
	tracer := otel.Tracer("adapter.github")
	ctx, span := tracer.Start(ctx, "github.GetFileContent")
	defer span.End()
	span.SetAttributes(attribute.String("file.path", path))

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	if ref != "" {
		params.Set("ref", ref)
	}
	var body contentResponse
	endpoint := fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, path)
	if err := c.get(ctx, endpoint, params, &body); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Debug("file absent at ref", slog.String("path", path), slog.String("ref", ref))
			return "", nil
		}
		return "", err
	}
	if body.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("op=github.decode_content path=%s: %w", path, err)
		}
		return string(decoded), nil
	}
	return body.Content, nil
}

// HealthCheck verifies API reachability.
func (c *Client) HealthCheck(ctx domain.Context) error {
	var out map[string]any
	return c.get(ctx, "rate_limit", nil, &out)
}
