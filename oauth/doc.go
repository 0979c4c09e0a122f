// Package oauth implements a single-client OAuth 2.0 authorization
// server intended to front an MCP bridge: authorization-code (with
// PKCE), client-credentials and refresh-token grants, RFC 8414 metadata,
// and bearer-token validation.
//
// Token state lives behind the TokenStore interface so the in-memory
// default can be swapped for a persistent backend (see redisstore)
// without touching protocol logic. With the memory store a process
// restart drops every session.
//
// End-user authentication is pluggable via the Adapter interface. The
// built-in local adapter mints a code immediately; a federated adapter
// can delegate to an external identity provider first.
package oauth
