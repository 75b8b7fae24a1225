// Package repo contains the HTTP clients the controller uses to talk to
// registered remote targets.
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// TargetClient speaks the remote target protocol: bearer-authenticated JSON
// over HTTP with a bounded timeout. Any non-2xx status or malformed body is
// a delegate failure; the executor decides whether to fall back to
// simulation or surface the failure.
type TargetClient struct {
	httpClient *http.Client
}

// NewTargetClient constructs a client with the given per-request timeout.
func NewTargetClient(timeout time.Duration) *TargetClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TargetClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Monitor fetches the target's current status.
func (c *TargetClient) Monitor(ctx context.Context, target models.RemoteTarget) (models.StatusReport, error) {
	if c == nil {
		return models.StatusReport{}, fmt.Errorf("target client not initialised")
	}

	var response struct {
		Status   string  `json:"status"`
		Replicas int     `json:"replicas"`
		CPU      float64 `json:"cpu"`
		Memory   float64 `json:"memory"`
	}
	if err := c.doJSON(ctx, http.MethodGet, target.MonitorURL, target.APIKey, nil, &response); err != nil {
		return models.StatusReport{}, fmt.Errorf("target monitor request failed: %w", err)
	}

	status, err := models.ParseHealthState(response.Status)
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("target monitor response: %w", err)
	}
	return models.StatusReport{
		Status:      status,
		Replicas:    response.Replicas,
		CPULoad:     response.CPU,
		MemoryUsage: response.Memory,
		Source:      models.SourceRemote,
		Service:     target.ServiceName,
	}, nil
}

// Scale asks the target to change its replica count.
func (c *TargetClient) Scale(ctx context.Context, target models.RemoteTarget, replicas int) (models.ScaleReply, error) {
	if c == nil {
		return models.ScaleReply{}, fmt.Errorf("target client not initialised")
	}

	payload := map[string]any{"replicas": replicas}
	var response struct {
		Status   string `json:"status"`
		Replicas int    `json:"replicas"`
		Message  string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, target.ScaleURL, target.APIKey, payload, &response); err != nil {
		return models.ScaleReply{}, fmt.Errorf("target scale request failed: %w", err)
	}
	return models.ScaleReply{
		Status:   response.Status,
		Replicas: response.Replicas,
		Message:  response.Message,
	}, nil
}

// Rollback asks the target to revert to its previous deployment.
func (c *TargetClient) Rollback(ctx context.Context, target models.RemoteTarget) (string, error) {
	if c == nil {
		return "", fmt.Errorf("target client not initialised")
	}

	var response struct {
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, target.RollbackURL, target.APIKey, nil, &response); err != nil {
		return "", fmt.Errorf("target rollback request failed: %w", err)
	}
	return response.Message, nil
}

func (c *TargetClient) doJSON(ctx context.Context, method, endpoint, apiKey string, payload, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("target returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
