package acp

import (
	"context"
	"encoding/json"
)

// Transport is the JSON-RPC connection to one agent process. A Session owns
// its Transport exclusively.
type Transport interface {
	// SendRequest sends a request and blocks until the agent responds, ctx
	// ends, or the transport closes. Error responses come back as *RPCError.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// SendNotification sends a message that expects no response.
	SendNotification(method string, params interface{}) error

	// Inbound delivers agent requests and notifications in arrival order.
	// The transport stops reading from the agent while a message sits
	// undelivered.
	Inbound() <-chan Inbound

	// Respond answers an agent request.
	Respond(id int64, result interface{}) error

	// RespondError answers an agent request with a JSON-RPC error.
	RespondError(id int64, code int, message string) error

	// Done is closed once the agent process is gone.
	Done() <-chan struct{}

	// Err reports why the transport closed. Valid after Done.
	Err() error

	// Terminate begins tearing the process down and returns immediately.
	// It is safe to call more than once.
	Terminate()
}

// Inbound is a message initiated by the agent. ID is set for requests,
// which must be answered with Respond or RespondError.
type Inbound struct {
	ID     *int64
	Method string
	Params json.RawMessage
}

// IsRequest reports whether the agent expects an answer.
func (m Inbound) IsRequest() bool {
	return m.ID != nil
}
