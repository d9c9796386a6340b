package mcpbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hazyhaar/pkg/kit"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/workspaces/transport"
)

// Expose registers every method of bus, present and future, as a tool on
// srv. The returned function stops tracking new methods.
func Expose(srv *mcp.Server, bus transport.Bus) func() {
	stop := bus.MethodAdded(func(m transport.MethodInfo) { registerMethod(srv, bus, m) })
	for _, m := range bus.Methods() {
		registerMethod(srv, bus, m)
	}
	return stop
}

func registerMethod(srv *mcp.Server, bus transport.Bus, m transport.MethodInfo) {
	tool := &mcp.Tool{
		Name:        m.Name,
		Description: "Interop bus method " + m.Name,
		InputSchema: map[string]any{"type": "object"},
	}
	if len(m.Operations) > 0 {
		tool.Meta = mcp.Meta{metaOperations: m.Operations}
	}

	name := m.Name
	endpoint := func(ctx context.Context, req any) (any, error) {
		args, _ := req.(json.RawMessage)
		res, err := bus.Invoke(ctx, name, args, transport.InvokeOptions{})
		if err != nil {
			var remote *transport.ErrRemote
			if errors.As(err, &remote) {
				return nil, errors.New(remote.Message)
			}
			return nil, err
		}
		if len(res.AllReturnValues) == 0 {
			return nil, transport.ErrEmptyEnvelope
		}
		ret := res.AllReturnValues[0].Returned
		if len(ret) == 0 {
			return nil, nil
		}
		return ret, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{
			Request: req.Params.Arguments,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithTransport(ctx, "mcp")
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
