// ABOUTME: HTTP client for the labmgrd v1 API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxJSONOutputBytes = 4 << 20

type apiClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type cloudResponse struct {
	Description     string   `json:"description"`
	Host            string   `json:"host"`
	Organization    string   `json:"organization"`
	Workspace       string   `json:"workspace"`
	Configuration   string   `json:"configuration"`
	OnlineAgents    int      `json:"online_agents"`
	MaxOnlineAgents int      `json:"max_online_agents"`
	OnlineNames     []string `json:"online_names"`
}

type machinesResponse struct {
	Cloud    string   `json:"cloud"`
	Machines []string `json:"machines"`
}

type testResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type agentResponse struct {
	Name              string        `json:"name"`
	Cloud             string        `json:"cloud"`
	VMName            string        `json:"vm_name"`
	IdleAction        string        `json:"idle_action"`
	LaunchDelay       time.Duration `json:"launch_delay"`
	UpdateHostAddress bool          `json:"update_host_address"`
	Launcher          string        `json:"launcher"`
	Online            bool          `json:"online"`
}

type eventResponse struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Machine   string `json:"machine,omitempty"`
	Action    string `json:"action,omitempty"`
	Message   string `json:"message,omitempty"`
}

type eventsResponse struct {
	Agent  string          `json:"agent"`
	Events []eventResponse `json:"events"`
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

func (c *apiClient) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.baseURL + "/v1/" + strings.Join(escaped, "/")
}

func (c *apiClient) do(ctx context.Context, method, target string) (*http.Response, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("request labmgrd at %s: %w", c.baseURL, err)
	}
	return resp, cancel, nil
}

// doJSON returns the raw JSON body of a successful response.
func (c *apiClient) doJSON(ctx context.Context, method, target string) ([]byte, error) {
	resp, cancel, err := c.do(ctx, method, target)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONOutputBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// stream copies a text/plain transcript to out as it arrives.
func (c *apiClient) stream(ctx context.Context, method, target string, out io.Writer) error {
	resp, cancel, err := c.do(ctx, method, target)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxJSONOutputBytes))
		return decodeAPIError(resp.StatusCode, body)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("labmgrd returned %s", resp.Status)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		if apiErr.Details != "" {
			return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Details)
		}
		return fmt.Errorf("%s", apiErr.Error)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("labmgrd error (%d): %s", status, msg)
}
