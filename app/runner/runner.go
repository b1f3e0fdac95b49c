// Package runner is a client of the process host running generation scripts and training jobs.
// Requests are JSON over HTTP; the host reports progress back as events, not in responses.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Client talks to the runner host
type Client struct {
	BaseURL  string
	Token    string // sent as bearer token if set
	Timeout  time.Duration
	Repeater Repeater // used for stop requests only, start is never retried

	HTTPClient *http.Client
}

// GenerationParams is a request to start dataset generation
type GenerationParams struct {
	OwnerID string `json:"ownerId"`
	Model   string `json:"model"`
	Mode    string `json:"mode"`
	Source  string `json:"source"`
	Resume  bool   `json:"resume"`
}

// ErrorResponse is returned by the host on failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartTraining starts a training job and returns its id
func (c *Client) StartTraining(ctx context.Context, ownerID string, params map[string]any, datasetPath string) (string, error) {
	req := struct {
		OwnerID     string         `json:"ownerId"`
		Params      map[string]any `json:"params"`
		DatasetPath string         `json:"datasetPath"`
	}{OwnerID: ownerID, Params: params, DatasetPath: datasetPath}

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.post(ctx, "/training/start", req, &resp); err != nil {
		return "", fmt.Errorf("failed to start training for %s: %w", ownerID, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("failed to start training for %s: empty job id", ownerID)
	}
	log.Printf("[INFO] training job %s started for %s", resp.JobID, ownerID)
	return resp.JobID, nil
}

// StopTraining asks the host to stop the training job
func (c *Client) StopTraining(ctx context.Context, jobID string) error {
	err := c.repeat(ctx, func() error {
		return c.post(ctx, "/training/stop", map[string]string{"jobId": jobID}, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to stop training %s: %w", jobID, err)
	}
	return nil
}

// StartGeneration starts dataset generation
func (c *Client) StartGeneration(ctx context.Context, p GenerationParams) error {
	if err := c.post(ctx, "/generation/start", p, nil); err != nil {
		return fmt.Errorf("failed to start generation for %s: %w", p.OwnerID, err)
	}
	log.Printf("[INFO] generation started for %s, model %s, mode %s", p.OwnerID, p.Model, p.Mode)
	return nil
}

// StopGeneration asks the host to stop the running generation
func (c *Client) StopGeneration(ctx context.Context) error {
	err := c.repeat(ctx, func() error {
		return c.post(ctx, "/generation/stop", struct{}{}, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to stop generation: %w", err)
	}
	return nil
}

// ReloadFiles asks the host to refresh the owner's file list. The request is sent in background,
// failures are logged only.
func (c *Client) ReloadFiles(ownerID string) {
	go func() {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := c.repeat(ctx, func() error {
			return c.post(ctx, "/files/reload", map[string]string{"ownerId": ownerID}, nil)
		})
		if err != nil {
			log.Printf("[WARN] failed to reload files of %s, %v", ownerID, err)
		}
	}()
}

func (c *Client) repeat(ctx context.Context, fn func() error) error {
	if c.Repeater == nil {
		return fn()
	}
	return c.Repeater.Do(ctx, fn)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("can't marshal request: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	u := strings.TrimSuffix(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("can't make request to %s: %w", u, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: er.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("can't decode response from %s: %w", u, err)
	}
	return nil
}

// StatusError is a non-2xx response of the host
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("runner responded with %d", e.Code)
	}
	return fmt.Sprintf("runner responded with %d: %s", e.Code, e.Message)
}
