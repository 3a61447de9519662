package mcp

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/session"
)

// createTransport builds an MCP SDK transport for the downstream gateway.
// Stdio gateways receive credentials through their environment; HTTP gateways
// receive them as headers on every request.
func createTransport(cfg *config.Config, creds session.Credentials) (mcpsdk.Transport, error) {
	switch {
	case cfg.MCPCommand != "":
		return createStdioTransport(cfg, creds), nil
	case cfg.MCPURL != "":
		return createHTTPTransport(cfg, creds), nil
	default:
		return nil, fmt.Errorf("no MCP gateway configured: set MCP_COMMAND or MCP_URL")
	}
}

func createStdioTransport(cfg *config.Config, creds session.Credentials) *mcpsdk.CommandTransport {
	cmd := exec.Command(cfg.MCPCommand, cfg.MCPArgs...)

	// Inherit parent environment, then layer the chat's credentials on top.
	env := os.Environ()
	env = append(env, "API_TOKEN="+creds.Token)
	if creds.BaseURL != "" {
		env = append(env, "API_BASE_URL="+creds.BaseURL)
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}
}

func createHTTPTransport(cfg *config.Config, creds session.Credentials) *mcpsdk.StreamableClientTransport {
	return &mcpsdk.StreamableClientTransport{
		Endpoint: cfg.MCPURL,
		HTTPClient: &http.Client{
			Transport: &credentialTransport{
				base:  http.DefaultTransport,
				creds: creds,
			},
		},
	}
}

// credentialTransport wraps an http.RoundTripper to forward the chat's
// credentials on every request to the gateway.
type credentialTransport struct {
	base  http.RoundTripper
	creds session.Credentials
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-API-Token", t.creds.Token)
	if t.creds.BaseURL != "" {
		req.Header.Set("X-API-BASE-URL", t.creds.BaseURL)
	}
	return t.base.RoundTrip(req)
}
