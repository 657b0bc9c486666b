package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrAgentsDisabled is returned when no agent service is configured.
var ErrAgentsDisabled = errors.New("agent invocation is not configured")

// AgentClient invokes AI agents hosted behind an HTTP service. Agents are
// black boxes: the input goes in as JSON and whatever JSON comes back is the
// action output.
type AgentClient struct {
	baseURL string
	client  *http.Client
}

// NewAgentClient creates an AgentClient. An empty baseURL disables agents.
func NewAgentClient(baseURL string, client *http.Client) *AgentClient {
	return &AgentClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Invoke posts input to {baseURL}/agents/{agentID}/invoke.
func (c *AgentClient) Invoke(ctx context.Context, agentID string, input map[string]any) (any, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrAgentsDisabled
	}
	if input == nil {
		input = map[string]any{}
	}
	out, err := postJSON(ctx, c.client, c.baseURL+"/agents/"+url.PathEscape(agentID)+"/invoke", input)
	if err != nil {
		return nil, fmt.Errorf("invoke agent %s: %w", agentID, err)
	}
	return out, nil
}
