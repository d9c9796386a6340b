// Package mcpbus carries the interop bus over the Model Context Protocol.
// Every bus method is an MCP tool; invoking a method is a tool call whose
// text content is the JSON return value. The operations a control method
// serves travel in the tool's _meta under "operations".
//
// MCP has no push channel suited to ordered event streams, so Subscribe
// always fails with ErrStreamsUnsupported. Hosts needing events use wsbus.
package mcpbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/workspaces/transport"
)

// ErrStreamsUnsupported is returned by Client.Subscribe.
var ErrStreamsUnsupported = errors.New("mcpbus: streams are not carried over MCP")

const metaOperations = "operations"

var impl = &mcp.Implementation{Name: "workspaces-bus", Version: "1.0.0"}

// Client implements transport.Bus over an MCP client session.
type Client struct {
	session *mcp.ClientSession
	logger  *slog.Logger

	mu         sync.Mutex
	methods    []transport.MethodInfo
	listeners  map[uint64]func(transport.MethodInfo)
	nextListen uint64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// DialCommand starts command as a stdio MCP server and connects to it.
func DialCommand(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	return Connect(ctx, &mcp.CommandTransport{Command: exec.Command(command, args...)}, opts...)
}

// Connect runs the MCP handshake over t and loads the advertised tools.
func Connect(ctx context.Context, t mcp.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		logger:    slog.Default(),
		listeners: make(map[uint64]func(transport.MethodInfo)),
	}
	for _, o := range opts {
		o(c)
	}

	client := mcp.NewClient(impl, &mcp.ClientOptions{
		ToolListChangedHandler: func(ctx context.Context, req *mcp.ToolListChangedRequest) {
			if err := c.refresh(ctx, req.Session); err != nil {
				c.logger.Warn("mcpbus: refresh tools", "error", err)
			}
		},
	})
	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpbus: connect: %w", err)
	}
	c.session = session
	if err := c.refresh(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	return c, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// refresh reloads the tool list and announces tools not seen before.
func (c *Client) refresh(ctx context.Context, session *mcp.ClientSession) error {
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("mcpbus: list tools: %w", err)
	}

	c.mu.Lock()
	known := make(map[string]bool, len(c.methods))
	for _, m := range c.methods {
		known[m.Name] = true
	}
	methods := make([]transport.MethodInfo, 0, len(res.Tools))
	var added []transport.MethodInfo
	for _, tool := range res.Tools {
		info := toMethodInfo(tool)
		methods = append(methods, info)
		if !known[info.Name] {
			added = append(added, info)
		}
	}
	c.methods = methods
	listeners := make([]func(transport.MethodInfo), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, info := range added {
		for _, fn := range listeners {
			fn(info)
		}
	}
	return nil
}

func toMethodInfo(tool *mcp.Tool) transport.MethodInfo {
	info := transport.MethodInfo{Name: tool.Name}
	raw, ok := tool.Meta[metaOperations].([]any)
	if !ok {
		return info
	}
	for _, v := range raw {
		if s, ok := v.(string); ok {
			info.Operations = append(info.Operations, s)
		}
	}
	return info
}

// Invoke implements transport.Bus. A tool result flagged as an error is a
// rejection by the method.
func (c *Client) Invoke(ctx context.Context, method string, args json.RawMessage, _ transport.InvokeOptions) (*transport.InvokeResult, error) {
	var arguments any = map[string]any{}
	if len(args) > 0 {
		arguments = args
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: method, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcpbus: call %s: %w", method, err)
	}
	text := extractText(res)
	if res.IsError {
		return nil, &transport.ErrRemote{Method: method, Message: text}
	}
	return &transport.InvokeResult{
		Method:          method,
		AllReturnValues: []transport.ReturnValue{{Returned: json.RawMessage(text), Executor: "mcp"}},
	}, nil
}

func extractText(res *mcp.CallToolResult) string {
	var texts []string
	for _, item := range res.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Subscribe implements transport.Bus.
func (c *Client) Subscribe(context.Context, string, json.RawMessage) (transport.Stream, error) {
	return nil, ErrStreamsUnsupported
}

// Methods implements transport.Bus.
func (c *Client) Methods() []transport.MethodInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.MethodInfo, len(c.methods))
	copy(out, c.methods)
	return out
}

// MethodAdded implements transport.Bus.
func (c *Client) MethodAdded(fn func(transport.MethodInfo)) func() {
	c.mu.Lock()
	c.nextListen++
	id := c.nextListen
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}
