package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InjectSession wires a pre-connected SDK session into the Client, bypassing
// transport creation. Intended for tests that run an in-memory gateway.
func (c *Client) InjectSession(sdkClient *mcpsdk.Client, sess *mcpsdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = sdkClient
	c.session = sess
}
