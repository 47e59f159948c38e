// Package api defines the protocol-facing types for the leitung transport.
//
// The transport moves opaque JSON-RPC messages between HTTP clients and an
// external processing loop. This package provides the pieces both sides
// share: the message codec, the distinguished session-initialization
// request, the transport error taxonomy, and ID generation.
//
// Messages are the jsonrpc.Message values of the MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk/jsonrpc). The transport never
// inspects a message beyond its shape and the "initialize" method name;
// all semantic interpretation belongs to the processing loop.
//
// Core pieces:
//   - [Codec]: bytes <-> [Message] translation, with [JSONRPCCodec] as the
//     default implementation
//   - [InitializeRequestParams]: recognizes the session-initialization
//     request and extracts its parameters
//   - [TransportError]: structured error with kind and message, mapped to
//     HTTP status codes by the transport layer
package api
