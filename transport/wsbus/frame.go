package wsbus

import (
	"encoding/json"

	"github.com/hazyhaar/workspaces/transport"
)

// Frame kinds.
const (
	kindInvoke      = "invoke"
	kindResult      = "result"
	kindSubscribe   = "subscribe"
	kindSubscribed  = "subscribed"
	kindUnsubscribe = "unsubscribe"
	kindData        = "data"
	kindMethods     = "methods"
	kindMethodAdded = "method_added"
	kindError       = "error"
)

// frame is the single JSON message shape exchanged on the socket. ID ties a
// result or error to its request and a data frame to its subscription.
type frame struct {
	Kind    string                  `json:"kind"`
	ID      string                  `json:"id,omitempty"`
	Method  string                  `json:"method,omitempty"`
	Args    json.RawMessage         `json:"args,omitempty"`
	Result  *transport.InvokeResult `json:"result,omitempty"`
	Data    json.RawMessage         `json:"data,omitempty"`
	Methods []transport.MethodInfo  `json:"methods,omitempty"`
	Error   string                  `json:"error,omitempty"`
	// Rejected marks an error raised by the method itself rather than by
	// the bus.
	Rejected bool `json:"rejected,omitempty"`
}
