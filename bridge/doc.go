// Package bridge exposes a line-oriented MCP backend over HTTP. Each
// POST /mcp spawns the configured backend command, writes the request
// body to its stdin, and returns whatever the backend printed on
// stdout. The bridge also mounts the OAuth authorization server that
// gates /mcp with bearer tokens.
package bridge
