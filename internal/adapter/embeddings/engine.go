// Package embeddings implements semantic code similarity on an
// OpenAI-compatible embeddings API. Without an API key the engine degrades
// to zero vectors and zero metrics instead of failing the pipeline.
package embeddings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

const (
	// DefaultThreshold flags near-duplicates in file-level metrics.
	DefaultThreshold = 0.7
	// StrictThreshold flags outright duplicates.
	StrictThreshold = 0.8

	// preprocessMaxLen bounds preprocessed block length for the encoder.
	preprocessMaxLen = 512
)

// Engine generates code embeddings and detects duplicate blocks.
type Engine struct {
	cfg   config.Config
	httpc *http.Client
	dim   int
}

// New constructs an Engine.
func New(cfg config.Config) *Engine {
	dim := cfg.EmbeddingsDim
	if dim <= 0 {
		dim = 384
	}
	return &Engine{
		cfg: cfg,
		httpc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		dim: dim,
	}
}

// Dimension returns the embedding vector size.
func (e *Engine) Dimension() int { return e.dim }

// PreprocessCode strips empty lines, collapses whitespace, and truncates the
// result so blocks fit the encoder input window.
func PreprocessCode(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			kept = append(kept, t)
		}
	}
	processed := strings.Join(kept, " ")
	if len(processed) > preprocessMaxLen {
		processed = processed[:preprocessMaxLen]
	}
	return processed
}

// ExtractBlocks splits file content into code blocks, starting a new block
// at each definition line (def/class/function/const/let/var).
func ExtractBlocks(fileContent string) []string {
	var blocks []string
	var current []string
	for _, line := range strings.Split(fileContent, "\n") {
		stripped := strings.TrimSpace(line)
		if startsDefinition(stripped) && len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
		if stripped != "" {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

func startsDefinition(stripped string) bool {
	for _, prefix := range []string{"def ", "class ", "function ", "const ", "let ", "var "} {
		if strings.HasPrefix(stripped, prefix) {
			return true
		}
	}
	return false
}

// Cosine returns the cosine similarity of two vectors, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (e *Engine) zeros() []float32 { return make([]float32, e.dim) }

// Encode returns the embedding of one text.
func (e *Engine) Encode(ctx domain.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch returns embeddings for a batch of texts. Inputs are
// preprocessed before encoding. Provider failures degrade to zero vectors.
func (e *Engine) EncodeBatch(ctx domain.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("adapter.embeddings")
	ctx, span := tracer.Start(ctx, "embeddings.EncodeBatch")
	defer span.End()

	if e.cfg.EmbeddingsAPIKey == "" {
		observability.DegradedResponse("embeddings")
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = e.zeros()
		}
		return out, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = PreprocessCode(t)
		if inputs[i] == "" {
			inputs[i] = " "
		}
	}

	body, _ := json.Marshal(map[string]any{
		"model": e.cfg.EmbeddingsModel,
		"input": inputs,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.EmbeddingsBaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=embeddings.encode: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.EmbeddingsAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		slog.Error("embeddings provider unreachable, degrading", slog.Any("error", err))
		observability.DegradedResponse("embeddings")
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = e.zeros()
		}
		return out, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("embeddings provider non-2xx, degrading",
			slog.Int("status", resp.StatusCode), slog.String("body", string(snippet)))
		observability.DegradedResponse("embeddings")
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = e.zeros()
		}
		return out, nil
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("op=embeddings.decode: %w", err)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = e.zeros()
	}
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// DetectDuplicates finds block pairs whose cosine similarity meets the
// threshold, sorted by similarity descending. Fewer than two blocks yields
// no pairs.
func (e *Engine) DetectDuplicates(ctx domain.Context, blocks []string, threshold float64) ([]domain.DuplicatePair, error) {
	if len(blocks) < 2 {
		return nil, nil
	}
	vecs, err := e.EncodeBatch(ctx, blocks)
	if err != nil {
		return nil, err
	}
	var pairs []domain.DuplicatePair
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			if sim := Cosine(vecs[i], vecs[j]); sim >= threshold {
				pairs = append(pairs, domain.DuplicatePair{I: i, J: j, Score: sim})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].Score > pairs[b].Score })
	return pairs, nil
}

// FileSimilarity computes duplicate metrics over one file's blocks.
// duplication_score = pairs / (n*(n-1)/2), clamped to 1.
func (e *Engine) FileSimilarity(ctx domain.Context, fileContent string) domain.SimilarityMetrics {
	blocks := ExtractBlocks(fileContent)
	if len(blocks) < 2 {
		return domain.SimilarityMetrics{TotalBlocks: len(blocks)}
	}

	pairs, err := e.DetectDuplicates(ctx, blocks, DefaultThreshold)
	if err != nil {
		slog.Error("duplicate detection failed", slog.Any("error", err))
		return domain.SimilarityMetrics{}
	}

	m := domain.SimilarityMetrics{
		TotalBlocks:     len(blocks),
		DuplicatesFound: len(pairs),
	}
	if len(pairs) > 0 {
		var sum float64
		for _, p := range pairs {
			if p.Score > m.MaxSimilarity {
				m.MaxSimilarity = p.Score
			}
			sum += p.Score
		}
		m.AvgSimilarity = sum / float64(len(pairs))
	}
	totalPairs := float64(len(blocks)*(len(blocks)-1)) / 2
	if totalPairs < 1 {
		totalPairs = 1
	}
	m.DuplicationScore = math.Min(1.0, float64(len(pairs))/totalPairs)
	return m
}
