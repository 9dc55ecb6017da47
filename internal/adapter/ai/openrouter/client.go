// Package openrouter implements the LLM analyzer on an OpenAI-compatible
// chat completions API. When no API key is configured or the provider stays
// unreachable after bounded retries, every method degrades to a canned
// response so the pipeline keeps moving.
package openrouter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// Client calls an OpenRouter-style chat completions endpoint.
type Client struct {
	cfg   config.Config
	httpc *http.Client
	enc   *tiktoken.Tiktoken
}

// New constructs a Client. The tokenizer load failure is tolerated; prompt
// truncation then falls back to a rune-count heuristic.
func New(cfg config.Config) *Client {
	timeout := cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tokenizer unavailable, using rune heuristic", slog.Any("error", err))
		enc = nil
	}
	return &Client{
		cfg: cfg,
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		enc: enc,
	}
}

// promptBudgetTokens bounds the code portion of a prompt so the request plus
// completion stays inside the provider context window.
const promptBudgetTokens = 6000

// truncateToBudget trims content to the prompt token budget.
func (c *Client) truncateToBudget(content string) string {
	if c.enc == nil {
		// ~4 chars per token heuristic
		limit := promptBudgetTokens * 4
		if len(content) > limit {
			return content[:limit]
		}
		return content
	}
	tokens := c.enc.Encode(content, nil, nil)
	if len(tokens) <= promptBudgetTokens {
		return content
	}
	return c.enc.Decode(tokens[:promptBudgetTokens])
}

func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// chatJSON sends a two-message prompt and returns the first choice content.
func (c *Client) chatJSON(ctx domain.Context, operation, systemPrompt, userPrompt string) (string, error) {
	if c.cfg.LLMAPIKey == "" {
		return "", fmt.Errorf("op=llm.chat: %w: LLM_API_KEY missing", domain.ErrInvalidArgument)
	}

	body := map[string]any{
		"model":       c.cfg.LLMModel,
		"temperature": c.cfg.LLMTemperature,
		"max_tokens":  c.cfg.LLMMaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, _ := json.Marshal(body)

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		start := time.Now()
		// Recreate the request each attempt to avoid reusing consumed bodies.
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LLMBaseURL+"/chat/completions", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.LLMAPIKey)
		r.Header.Set("Content-Type", "application/json")
		if c.cfg.LLMReferer != "" {
			r.Header.Set("HTTP-Referer", c.cfg.LLMReferer)
		}
		if c.cfg.LLMTitle != "" {
			r.Header.Set("X-Title", c.cfg.LLMTitle)
		}
		resp, err := c.httpc.Do(r)
		observability.ObserveLLMRequest(operation, time.Since(start))
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("llm provider rate limited", slog.String("op", operation), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			snippet := string(bodyBytes)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			slog.Warn("llm provider 4xx", slog.String("op", operation), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Error("llm provider non-2xx", slog.String("op", operation), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			return err
		}
		return nil
	}
	bo := backoff.WithContext(c.getBackoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", fmt.Errorf("op=llm.chat operation=%s: %w", operation, err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty choices from llm provider")
	}
	return out.Choices[0].Message.Content, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type qualityPayload struct {
	Score       float64                `json:"score"`
	Issues      []domain.RawIssue      `json:"issues"`
	Suggestions []domain.RawSuggestion `json:"suggestions"`
	Metrics     struct {
		Maintainability float64 `json:"maintainability"`
		Readability     float64 `json:"readability"`
		Complexity      float64 `json:"complexity"`
	} `json:"metrics"`
}

// AnalyzeQuality runs the quality analysis prompt over one file.
func (c *Client) AnalyzeQuality(ctx domain.Context, content, path, language string) (domain.QualityResult, error) {
	tracer := otel.Tracer("adapter.llm")
	ctx, span := tracer.Start(ctx, "llm.AnalyzeQuality")
	defer span.End()

	if c.cfg.LLMAPIKey == "" {
		observability.DegradedResponse("llm")
		return cannedQuality(), nil
	}

	raw, err := c.chatJSON(ctx, "analyze_quality",
		"You are an expert code reviewer. Analyze the provided code and return detailed quality metrics in JSON format.",
		qualityPrompt(c.truncateToBudget(content), path, language))
	if err != nil {
		slog.Error("quality analysis failed, degrading", slog.String("path", path), slog.Any("error", err))
		observability.DegradedResponse("llm")
		return cannedQuality(), nil
	}

	var p qualityPayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &p); err != nil {
		// Non-JSON content still carries value; wrap it as a suggestion.
		return domain.QualityResult{
			Score:           7.5,
			Issues:          []domain.RawIssue{},
			Suggestions:     []domain.RawSuggestion{{Type: "info", Description: raw}},
			Maintainability: 8,
			Readability:     7,
			Complexity:      6,
		}, nil
	}
	return domain.QualityResult{
		Score:           p.Score,
		Issues:          p.Issues,
		Suggestions:     p.Suggestions,
		Maintainability: p.Metrics.Maintainability,
		Readability:     p.Metrics.Readability,
		Complexity:      p.Metrics.Complexity,
	}, nil
}

// AnalyzeSecurity runs the security analysis prompt over one file.
func (c *Client) AnalyzeSecurity(ctx domain.Context, content, path, language string) ([]domain.RawIssue, error) {
	tracer := otel.Tracer("adapter.llm")
	ctx, span := tracer.Start(ctx, "llm.AnalyzeSecurity")
	defer span.End()

	if c.cfg.LLMAPIKey == "" {
		observability.DegradedResponse("llm")
		return cannedSecurity(), nil
	}

	raw, err := c.chatJSON(ctx, "analyze_security",
		"You are a security expert. Analyze the provided code for vulnerabilities and return findings as a JSON array.",
		securityPrompt(c.truncateToBudget(content), path, language))
	if err != nil {
		slog.Error("security analysis failed, degrading", slog.String("path", path), slog.Any("error", err))
		observability.DegradedResponse("llm")
		return cannedSecurity(), nil
	}

	var issues []domain.RawIssue
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &issues); err != nil {
		slog.Warn("security response not parseable", slog.String("path", path))
		return []domain.RawIssue{}, nil
	}
	return issues, nil
}

// GenerateSuggestions runs the improvement suggestions prompt over one file.
func (c *Client) GenerateSuggestions(ctx domain.Context, content, path, language string) ([]domain.RawSuggestion, error) {
	tracer := otel.Tracer("adapter.llm")
	ctx, span := tracer.Start(ctx, "llm.GenerateSuggestions")
	defer span.End()

	if c.cfg.LLMAPIKey == "" {
		observability.DegradedResponse("llm")
		return cannedSuggestions(), nil
	}

	raw, err := c.chatJSON(ctx, "generate_suggestions",
		"You are an expert code reviewer. Provide actionable improvement suggestions as a JSON array.",
		suggestionsPrompt(c.truncateToBudget(content), path, language))
	if err != nil {
		slog.Error("suggestion generation failed, degrading", slog.String("path", path), slog.Any("error", err))
		observability.DegradedResponse("llm")
		return cannedSuggestions(), nil
	}

	var suggestions []domain.RawSuggestion
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &suggestions); err != nil {
		slog.Warn("suggestions response not parseable", slog.String("path", path))
		return []domain.RawSuggestion{}, nil
	}
	return suggestions, nil
}

func qualityPrompt(content, path, language string) string {
	return fmt.Sprintf(`Analyze the following %s code for quality metrics and issues:

File: %s

`+"```%s\n%s\n```"+`

Provide a detailed analysis in JSON format with these fields:
- score: Overall quality score (0-10)
- issues: Array of specific issues found
- suggestions: Array of improvement suggestions
- metrics: Object with maintainability, readability, complexity scores (0-10)

Focus on:
- Code structure and organization
- Variable and function naming
- Code complexity and maintainability
- Best practices adherence
- Documentation quality`, language, path, language, content)
}

func securityPrompt(content, path, language string) string {
	return fmt.Sprintf(`Analyze the following %s code for security vulnerabilities:

File: %s

`+"```%s\n%s\n```"+`

Return a JSON array of security issues with these fields for each issue:
- type: Type of vulnerability (e.g., "sql_injection", "xss", "hardcoded_secret")
- severity: "low", "medium", "high", or "critical"
- title: Brief title of the issue
- description: Detailed description of the vulnerability
- line: Line number where the issue occurs
- recommendation: How to fix the issue

Look for:
- SQL injection vulnerabilities
- Cross-site scripting (XSS)
- Hardcoded secrets/passwords
- Insecure data handling
- Authentication/authorization issues
- Input validation problems`, language, path, language, content)
}

func suggestionsPrompt(content, path, language string) string {
	return fmt.Sprintf(`Review the following %s code and provide improvement suggestions:

File: %s

`+"```%s\n%s\n```"+`

Return a JSON array of suggestions with these fields for each suggestion:
- type: Type of improvement (e.g., "performance", "readability", "best_practice")
- priority: "low", "medium", or "high"
- title: Brief title of the suggestion
- description: Detailed description of the improvement
- line: Line number where the improvement applies
- example: Optional code example showing the improvement

Focus on:
- Performance optimizations
- Code readability improvements
- Best practice adoption
- Error handling enhancements
- Code maintainability`, language, path, language, content)
}

func cannedQuality() domain.QualityResult {
	return domain.QualityResult{
		Score: 8.0,
		Issues: []domain.RawIssue{{
			Type:        "warning",
			Title:       "Canned Analysis",
			Description: "AI service unavailable - showing canned results",
			Line:        1,
		}},
		Suggestions: []domain.RawSuggestion{{
			Type:        "info",
			Priority:    "high",
			Title:       "Configure AI Service",
			Description: "Set the LLM API key to enable real analysis",
		}},
		Maintainability: 8,
		Readability:     8,
		Complexity:      7,
		Degraded:        true,
	}
}

func cannedSecurity() []domain.RawIssue {
	return []domain.RawIssue{{
		Type:           "info",
		Severity:       "low",
		Title:          "Canned Security Analysis",
		Description:    "AI service unavailable - configure the LLM API key for real security analysis",
		Line:           1,
		Recommendation: "Set LLM_API_KEY in the environment",
	}}
}

func cannedSuggestions() []domain.RawSuggestion {
	return []domain.RawSuggestion{{
		Type:        "info",
		Priority:    "medium",
		Title:       "Configure AI Service",
		Description: "Set the LLM API key to enable AI-powered code suggestions",
		Line:        1,
		Example:     "export LLM_API_KEY=your_api_key_here",
	}}
}
