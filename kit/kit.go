// Package kit holds the small shared pieces every convbox transport uses:
// the Endpoint shape, request-scoped context accessors and the MCP tool
// registration helper.
package kit

import "context"

// Endpoint is a transport-agnostic operation: decoded request in,
// response out. HTTP handlers and MCP tools both terminate in one.
type Endpoint func(ctx context.Context, req any) (any, error)
