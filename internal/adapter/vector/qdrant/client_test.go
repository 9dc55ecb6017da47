package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/vector/qdrant"
)

func TestEnsureCollectionExisting(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := qdrant.New(srv.URL, "")
	require.NoError(t, c.EnsureCollection(context.Background(), "blocks", 384, "Cosine"))
}

func TestEnsureCollectionCreates(t *testing.T) {
	t.Parallel()
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		created = true
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := qdrant.New(srv.URL, "secret")
	require.NoError(t, c.EnsureCollection(context.Background(), "blocks", 384, "Cosine"))
	assert.True(t, created)
}

func TestUpsertPointsAssignsIDs(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []map[string]any `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Points, 2)
		assert.NotEmpty(t, body.Points[0]["id"])
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := qdrant.New(srv.URL, "")
	err := c.UpsertPoints(context.Background(), "blocks",
		[][]float32{{1, 0}, {0, 1}},
		[]map[string]any{{"pr": 1}, {"pr": 1}}, nil)
	require.NoError(t, err)
}

func TestUpsertPointsLengthMismatch(t *testing.T) {
	t.Parallel()
	c := qdrant.New("http://localhost:0", "")
	err := c.UpsertPoints(context.Background(), "blocks", [][]float32{{1}}, nil, nil)
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/points/search")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"id": "p1", "score": 0.92}},
		})
	}))
	t.Cleanup(srv.Close)

	c := qdrant.New(srv.URL, "")
	got, err := c.Search(context.Background(), "blocks", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0]["id"])
}
