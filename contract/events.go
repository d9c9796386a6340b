package contract

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// EventType is the logical kind of a stream notification.
type EventType string

const (
	EventFrame     EventType = "frame"
	EventWorkspace EventType = "workspace"
	EventContainer EventType = "container"
	EventWindow    EventType = "window"
)

// Scope is the level a subscription is filtered at.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeFrame     Scope = "frame"
	ScopeWorkspace Scope = "workspace"
	ScopeWindow    Scope = "window"
)

// Actions per event type.
const (
	ActionOpened                   = "opened"
	ActionClosed                   = "closed"
	ActionFocus                    = "focus"
	ActionMaximized                = "maximized"
	ActionMinimized                = "minimized"
	ActionNormal                   = "normal"
	ActionSelected                 = "selected"
	ActionHibernated               = "hibernated"
	ActionResumed                  = "resumed"
	ActionAdded                    = "added"
	ActionRemoved                  = "removed"
	ActionLoaded                   = "loaded"
	ActionRestored                 = "restored"
	ActionLockConfigurationChanged = "lock-configuration-changed"
)

var actions = map[EventType][]string{
	EventFrame:     {ActionOpened, ActionClosed, ActionFocus, ActionMaximized, ActionMinimized, ActionNormal},
	EventWorkspace: {ActionOpened, ActionClosed, ActionFocus, ActionSelected, ActionHibernated, ActionResumed, ActionLockConfigurationChanged},
	EventContainer: {ActionAdded, ActionRemoved, ActionMaximized, ActionRestored, ActionLockConfigurationChanged},
	EventWindow:    {ActionAdded, ActionRemoved, ActionLoaded, ActionFocus, ActionMaximized, ActionRestored, ActionSelected, ActionLockConfigurationChanged},
}

// ValidAction reports whether action is declared for t.
func ValidAction(t EventType, action string) bool {
	for _, a := range actions[t] {
		if a == action {
			return true
		}
	}
	return false
}

// Stream names on the bus. One physical stream per event type in filtered
// mode; SharedStream carries every type in host-embedded mode.
const (
	StreamFrame     = "Workspaces.Stream.Frame"
	StreamWorkspace = "Workspaces.Stream.Workspace"
	StreamContainer = "Workspaces.Stream.Container"
	StreamWindow    = "Workspaces.Stream.Window"
	SharedStream    = "Workspaces.Stream.Events"
)

// StreamFor maps an event type to its stream name.
func StreamFor(t EventType) (string, error) {
	switch t {
	case EventFrame:
		return StreamFrame, nil
	case EventWorkspace:
		return StreamWorkspace, nil
	case EventContainer:
		return StreamContainer, nil
	case EventWindow:
		return StreamWindow, nil
	}
	return "", Programming("unknown event type %q", t)
}

// StreamArgs are the subscription arguments sent when opening a stream.
type StreamArgs struct {
	Branch string `json:"branch,omitempty"`
}

// Envelope is the raw shape of one stream message.
type Envelope struct {
	RequestArguments StreamArgs      `json:"requestArguments"`
	Action           string          `json:"action"`
	Type             EventType       `json:"type"`
	Payload          json.RawMessage `json:"payload"`
}

// Event is a validated, typed stream notification.
type Event struct {
	Type   EventType `json:"type"`
	Action string    `json:"action"`
	Branch string    `json:"branch,omitempty"`

	FrameSummary     *FrameSummary     `json:"frameSummary,omitempty"`
	WorkspaceSummary *WorkspaceSummary `json:"workspaceSummary,omitempty"`
	ContainerSummary *ContainerSummary `json:"containerSummary,omitempty"`
	WindowSummary    *WindowSummary    `json:"windowSummary,omitempty"`
}

// FrameID extracts the frame id the event belongs to.
func (e Event) FrameID() string {
	switch {
	case e.FrameSummary != nil:
		return e.FrameSummary.ID
	case e.WorkspaceSummary != nil:
		return e.WorkspaceSummary.Config.FrameID
	case e.ContainerSummary != nil:
		return e.ContainerSummary.Config.FrameID
	case e.WindowSummary != nil:
		return e.WindowSummary.Config.FrameID
	}
	return ""
}

// WorkspaceID extracts the workspace id the event belongs to.
func (e Event) WorkspaceID() string {
	switch {
	case e.WorkspaceSummary != nil:
		return e.WorkspaceSummary.ID
	case e.ContainerSummary != nil:
		return e.ContainerSummary.Config.WorkspaceID
	case e.WindowSummary != nil:
		return e.WindowSummary.Config.WorkspaceID
	}
	return ""
}

// WindowID extracts the window placement id of a window event.
func (e Event) WindowID() string {
	if e.WindowSummary != nil {
		return e.WindowSummary.ItemID
	}
	return ""
}

var (
	envelopeSchema = compile("event.envelope",
		`{"type":"object","required":["action","type","payload"],"properties":{`+
			`"requestArguments":{"type":["object","null"],"properties":{"branch":{"type":"string"}}},`+
			`"action":{"type":"string","minLength":1},`+
			`"type":{"enum":["frame","workspace","container","window"]},`+
			`"payload":{"type":"object"}}}`)

	payloadSchemas = map[EventType]*jsonschema.Resolved{
		EventFrame: compile("event.frame",
			`{"type":"object","required":["frameSummary"],"properties":{"frameSummary":`+frame+`}}`),
		EventWorkspace: compile("event.workspace",
			`{"type":"object","required":["workspaceSummary","frameSummary"],"properties":{"workspaceSummary":`+workspaceSummary+`,"frameSummary":`+frame+`}}`),
		EventContainer: compile("event.container",
			`{"type":"object","required":["containerSummary"],"properties":{"containerSummary":{"type":"object","required":["itemId","config"],"properties":{"itemId":`+strID+`,"config":{"type":"object"}}}}}`),
		EventWindow: compile("event.window",
			`{"type":"object","required":["windowSummary"],"properties":{"windowSummary":{"type":"object","required":["itemId","config"],"properties":{"itemId":`+strID+`,"parentId":{"type":"string"},"config":{"type":"object"}}}}}`),
	}
)

// ParseEvent validates a raw stream message: the envelope first, then the
// action against the declared type, then the payload against the schema of
// the type declared inside the message (one stream may carry several types).
func ParseEvent(data []byte) (Event, error) {
	if err := validateRaw(envelopeSchema, data); err != nil {
		return Event{}, &ValidationError{Direction: DirectionEvent, Cause: err}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, &ValidationError{Direction: DirectionEvent, Cause: err}
	}
	if !ValidAction(env.Type, env.Action) {
		return Event{}, &ValidationError{Direction: DirectionEvent,
			Cause: fmt.Errorf("action %q is not declared for %s events", env.Action, env.Type)}
	}
	schema := payloadSchemas[env.Type]
	if err := validateRaw(schema, env.Payload); err != nil {
		return Event{}, &ValidationError{Direction: DirectionEvent, Cause: fmt.Errorf("%s payload: %w", env.Type, err)}
	}
	ev := Event{Type: env.Type, Action: env.Action, Branch: env.RequestArguments.Branch}
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return Event{}, &ValidationError{Direction: DirectionEvent, Cause: err}
	}
	// Payload may not override the envelope fields.
	ev.Type, ev.Action, ev.Branch = env.Type, env.Action, env.RequestArguments.Branch
	return ev, nil
}

// EncodeEvent builds the wire form of an event, used by hosts and tests.
func EncodeEvent(ev Event, args StreamArgs) ([]byte, error) {
	payload, err := json.Marshal(struct {
		FrameSummary     *FrameSummary     `json:"frameSummary,omitempty"`
		WorkspaceSummary *WorkspaceSummary `json:"workspaceSummary,omitempty"`
		ContainerSummary *ContainerSummary `json:"containerSummary,omitempty"`
		WindowSummary    *WindowSummary    `json:"windowSummary,omitempty"`
	}{ev.FrameSummary, ev.WorkspaceSummary, ev.ContainerSummary, ev.WindowSummary})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{RequestArguments: args, Action: ev.Action, Type: ev.Type, Payload: payload})
}
