// Package mcp defines the wire-level types of the Model Context Protocol
// as spoken by this server: tool, resource, resource template and prompt
// descriptors plus the request/result payloads for the supported methods.
//
// The shapes follow the 2025-03-26 protocol revision. Only the subset of
// the protocol that the dispatcher implements is modeled here; optional
// fields use omitempty so absent values stay absent on the wire.
package mcp
