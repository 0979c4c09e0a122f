// Package mcpserver implements the MCP session dispatcher: explicit
// registries for tools, resources, resource templates and prompts, and a
// one-JSON-object-per-line JSON-RPC dispatch surface.
//
// Registration is explicit: callers supply a name, description,
// pre-built JSON schema and a handler function. There is no reflection
// or schema generation in this package; schema construction belongs to
// the embedder.
//
// The dispatcher never lets a single request take down the session: a
// malformed line yields one error reply (with ID 0 when the request ID
// could not be recovered) and the read loop continues.
package mcpserver
