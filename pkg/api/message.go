package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Message is a single protocol unit: a request, a notification (a request
// without an ID), or a response. Messages are immutable once decoded;
// ownership passes from the decoder to whichever queue accepts them.
type Message = jsonrpc.Message

// InitializeMethod is the method name of the distinguished
// session-initialization request. It is the only method name the
// transport ever looks at.
const InitializeMethod = "initialize"

// Codec translates between raw bytes and protocol messages. The transport
// consumes a Codec rather than defining a wire schema of its own, so the
// envelope can be swapped out without touching queueing or delivery.
type Codec interface {
	// Decode parses one message from data. Malformed input yields a
	// TransportError of kind ErrorKindDecode.
	Decode(data []byte) (Message, error)

	// Encode serializes one message for the wire.
	Encode(msg Message) ([]byte, error)
}

// JSONRPCCodec is the default Codec, wrapping the JSON-RPC 2.0
// implementation of the MCP Go SDK.
type JSONRPCCodec struct{}

var _ Codec = JSONRPCCodec{}

// Decode parses a single JSON-RPC message.
func (JSONRPCCodec) Decode(data []byte) (Message, error) {
	msg, err := jsonrpc.DecodeMessage(bytes.TrimSpace(data))
	if err != nil {
		return nil, NewDecodeError(err)
	}
	return msg, nil
}

// Encode serializes a single JSON-RPC message.
func (JSONRPCCodec) Encode(msg Message) ([]byte, error) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}

// InitializeRequestParams reports whether msg is a session-initialization
// request and, if so, returns a copy of its raw parameters. The copy keeps
// the captured value independent of the message's own lifetime.
func InitializeRequestParams(msg Message) (json.RawMessage, bool) {
	req, ok := msg.(*jsonrpc.Request)
	if !ok || req.Method != InitializeMethod {
		return nil, false
	}
	params := make(json.RawMessage, len(req.Params))
	copy(params, req.Params)
	return params, true
}

// InitializeParams is a typed view of the parameters carried by the
// session-initialization request. Fields the client did not send are left
// at their zero values; unknown fields are ignored.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ClientInfo identifies the connecting client implementation.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ParseInitializeParams decodes captured initialization parameters into
// their typed form.
func ParseInitializeParams(raw json.RawMessage) (InitializeParams, error) {
	var params InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return InitializeParams{}, fmt.Errorf("parsing initialize params: %w", err)
	}
	return params, nil
}
