// Package metadata holds the build identity reported during the MCP handshake.
package metadata

const (
	Name    = "coursera-mcp"
	Version = "0.3.1"
)
