package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_StartTraining(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/training/start", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p1", req["ownerId"])
		assert.Equal(t, "/data/v1", req["datasetPath"])
		assert.Equal(t, map[string]any{"iters": float64(100)}, req["params"])
		_, _ = w.Write([]byte(`{"jobId":"job-42"}`))
	}))
	defer ts.Close()

	c := &Client{BaseURL: ts.URL + "/", Token: "secret", Timeout: time.Second}
	id, err := c.StartTraining(context.Background(), "p1", map[string]any{"iters": 100}, "/data/v1")
	require.NoError(t, err)
	assert.Equal(t, "job-42", id)
}

func TestClient_StartTrainingErrors(t *testing.T) {
	t.Run("error response", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"python not found"}`))
		}))
		defer ts.Close()
		c := &Client{BaseURL: ts.URL}
		_, err := c.StartTraining(context.Background(), "p1", nil, "")
		require.Error(t, err)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusConflict, se.Code)
		assert.Equal(t, "python not found", se.Message)
	})

	t.Run("empty job id", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer ts.Close()
		c := &Client{BaseURL: ts.URL}
		_, err := c.StartTraining(context.Background(), "p1", nil, "")
		require.ErrorContains(t, err, "empty job id")
	})

	t.Run("not retried", func(t *testing.T) {
		var calls int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()
		c := &Client{BaseURL: ts.URL, Repeater: repeater.New(&strategy.Backoff{Repeats: 3, Duration: time.Millisecond})}
		_, err := c.StartTraining(context.Background(), "p1", nil, "")
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestClient_StopTrainingRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/training/stop", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req["jobId"])
	}))
	defer ts.Close()

	c := &Client{BaseURL: ts.URL, Repeater: repeater.New(&strategy.Backoff{Repeats: 5, Duration: time.Millisecond, Factor: 1})}
	require.NoError(t, c.StopTraining(context.Background(), "job-1"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Generation(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/generation/start" {
			var p GenerationParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			assert.Equal(t, GenerationParams{OwnerID: "p1", Model: "qwen", Mode: "qa", Source: "/src", Resume: true}, p)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := &Client{BaseURL: ts.URL}
	require.NoError(t, c.StartGeneration(context.Background(), GenerationParams{OwnerID: "p1", Model: "qwen", Mode: "qa",
		Source: "/src", Resume: true}))
	require.NoError(t, c.StopGeneration(context.Background()))
	assert.Equal(t, []string{"/generation/start", "/generation/stop"}, paths)
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := &Client{BaseURL: url, Timeout: 100 * time.Millisecond}
	err := c.StopGeneration(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestClient_ReloadFiles(t *testing.T) {
	got := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/reload", r.URL.Path)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got <- req["ownerId"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := &Client{BaseURL: ts.URL, Timeout: time.Second}
	c.ReloadFiles("p7")
	select {
	case owner := <-got:
		assert.Equal(t, "p7", owner)
	case <-time.After(time.Second):
		t.Fatal("reload request not sent")
	}
}
