package resolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

// Executor is the external collaborator that performs on-chain resolution.
// This pipeline only tells it what to do and when; signing and submission
// happen on the executor's side.
type Executor interface {
	// CreateAction registers a resolution action and returns the executor's
	// ID for it.
	CreateAction(ctx context.Context, a domain.ResolutionAction) (executorActionID string, err error)
	// Execute triggers a previously created action and blocks until the
	// executor reports a terminal result.
	Execute(ctx context.Context, executorActionID string) error
}

// HTTPExecutor talks to the executor service over REST.
type HTTPExecutor struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor client.
func NewHTTPExecutor(baseURL, authToken string, hc *http.Client) *HTTPExecutor {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{baseURL: baseURL, authToken: authToken, httpClient: hc}
}

type createActionRequest struct {
	Provider     string    `json:"provider"`
	MarketID     string    `json:"market_id"`
	MirrorKey    string    `json:"mirror_key"`
	OracleSource string    `json:"oracle_source"`
	Outcome      string    `json:"outcome"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

type actionResponse struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

// CreateAction implements Executor.
func (e *HTTPExecutor) CreateAction(ctx context.Context, a domain.ResolutionAction) (string, error) {
	reqBody := createActionRequest{
		Provider:     string(a.Provider),
		MarketID:     a.ExternalMarketID,
		MirrorKey:    a.MirrorKey,
		OracleSource: a.OracleSource,
		Outcome:      string(a.Outcome),
		ScheduledFor: a.ScheduledFor,
	}

	var resp actionResponse
	if err := e.do(ctx, http.MethodPost, "/actions", reqBody, &resp); err != nil {
		return "", fmt.Errorf("executor: create action: %w", err)
	}
	if resp.ActionID == "" {
		return "", fmt.Errorf("executor: create action: %w: empty action id", domain.ErrBadResponse)
	}
	return resp.ActionID, nil
}

// Execute implements Executor. A 2xx response with status "failed" is an
// execution failure, not a transport failure; it is not retryable.
func (e *HTTPExecutor) Execute(ctx context.Context, executorActionID string) error {
	var resp actionResponse
	if err := e.do(ctx, http.MethodPut, "/actions/"+executorActionID+"/execute", nil, &resp); err != nil {
		return fmt.Errorf("executor: execute action %s: %w", executorActionID, err)
	}
	if resp.Status != "done" {
		return fmt.Errorf("executor: action %s finished %q: %s", executorActionID, resp.Status, resp.Error)
	}
	return nil
}

func (e *HTTPExecutor) do(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if e.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.authToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return resilience.MarkTransient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.MarkTransient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resilience.MarkTransient(fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody))
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w: %w", domain.ErrBadResponse, err)
		}
	}
	return nil
}
