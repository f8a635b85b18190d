// internal/clients/jobs_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"membercycle/internal/auth"
	"membercycle/internal/jobs"
)

var ErrRejected = errors.New("trigger rejected")

// APIError carries the error body a server returns for a refused trigger.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s: %s", ErrRejected, e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrRejected }

// JobsClient triggers manual jobs on a running membercycle server.
type JobsClient struct {
	baseURL    string
	scheme     auth.Scheme
	credential string
	httpClient *http.Client
}

func NewJobsClient(baseURL string, scheme auth.Scheme, credential string) *JobsClient {
	return &JobsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		scheme:     scheme,
		credential: credential,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Trigger posts a manual trigger for kind and returns the decoded summary.
func (c *JobsClient) Trigger(ctx context.Context, kind jobs.Kind) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/jobs/%s", c.baseURL, url.PathEscape(string(kind)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.credential != "" {
		req.Header.Set("Authorization", fmt.Sprintf("%s %s", c.scheme, c.credential))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", kind, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := dec.Decode(apiErr); err != nil {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	var summary map[string]any
	if err := dec.Decode(&summary); err != nil {
		return nil, fmt.Errorf("decode %s summary: %w", kind, err)
	}
	return summary, nil
}
