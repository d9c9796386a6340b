// Package contract holds the wire protocol shared with the remote layout
// authority: payload shapes, the versioned operation catalog, JSON-schema
// validation of arguments, results and stream events, and the error taxonomy
// every other package reports through.
//
// The catalog is closed: an operation name that is not listed here is a
// programming error, and both sides of the bus must agree on CatalogVersion.
package contract

import (
	"encoding/json"
	"fmt"
)

// ItemType tags a node of the layout tree.
type ItemType string

const (
	TypeWorkspace ItemType = "workspace"
	TypeRow       ItemType = "row"
	TypeColumn    ItemType = "column"
	TypeGroup     ItemType = "group"
	TypeWindow    ItemType = "window"
)

// IsContainer reports whether t is a row, column or group.
func (t ItemType) IsContainer() bool {
	return t == TypeRow || t == TypeColumn || t == TypeGroup
}

// FrameSummary identifies a frame.
type FrameSummary struct {
	ID string `json:"id"`
}

// WorkspaceConfig is the workspace-level configuration reported by the
// authority. Lock fields mirror the last lockWorkspace call.
type WorkspaceConfig struct {
	FrameID       string `json:"frameId"`
	Title         string `json:"title"`
	PositionIndex int    `json:"positionIndex"`
	LayoutName    string `json:"layoutName,omitempty"`
	IsHibernated  bool   `json:"isHibernated"`
	IsSelected    bool   `json:"isSelected"`

	AllowDrop              bool `json:"allowDrop"`
	AllowExtract           bool `json:"allowExtract"`
	AllowSplitters         bool `json:"allowSplitters"`
	AllowWindowReorder     bool `json:"allowWindowReorder"`
	ShowCloseButton        bool `json:"showCloseButton"`
	ShowSaveButton         bool `json:"showSaveButton"`
	ShowWindowCloseButtons bool `json:"showWindowCloseButtons"`
	ShowEjectButtons       bool `json:"showEjectButtons"`
	ShowAddWindowButtons   bool `json:"showAddWindowButtons"`
}

// ContainerConfig is shared by rows, columns and groups. Fields that do not
// apply to a kind are left zero by the authority.
type ContainerConfig struct {
	WorkspaceID   string `json:"workspaceId"`
	FrameID       string `json:"frameId"`
	PositionIndex int    `json:"positionIndex"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	IsMaximized   bool   `json:"isMaximized,omitempty"`

	AllowDrop           bool `json:"allowDrop"`
	AllowSplitters      bool `json:"allowSplitters,omitempty"`
	AllowExtract        bool `json:"allowExtract,omitempty"`
	AllowReorder        bool `json:"allowReorder,omitempty"`
	ShowMaximizeButton  bool `json:"showMaximizeButton,omitempty"`
	ShowEjectButton     bool `json:"showEjectButton,omitempty"`
	ShowAddWindowButton bool `json:"showAddWindowButton,omitempty"`
}

// WindowConfig describes a window placement. WindowID stays empty until the
// hosted window has been created and loaded.
type WindowConfig struct {
	FrameID       string `json:"frameId"`
	WorkspaceID   string `json:"workspaceId"`
	WindowID      string `json:"windowId,omitempty"`
	AppName       string `json:"appName,omitempty"`
	URL           string `json:"url,omitempty"`
	Title         string `json:"title,omitempty"`
	PositionIndex int    `json:"positionIndex"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	IsMaximized   bool   `json:"isMaximized"`
	IsLoaded      bool   `json:"isLoaded"`
	IsFocused     bool   `json:"isFocused"`
	IsSelected    bool   `json:"isSelected"`

	AllowExtract    bool `json:"allowExtract"`
	ShowCloseButton bool `json:"showCloseButton"`
}

// SnapshotNode is one node of an authoritative tree snapshot. Config is kept
// raw until the node's type is known; use DecodeConfig.
type SnapshotNode struct {
	ID       string          `json:"id"`
	Type     ItemType        `json:"type"`
	Config   json.RawMessage `json:"config"`
	Children []SnapshotNode  `json:"children,omitempty"`
}

// DecodeConfig unmarshals the node config into v.
func (n SnapshotNode) DecodeConfig(v any) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		return &ValidationError{Direction: DirectionResult, Cause: fmt.Errorf("node %s (%s) config: %w", n.ID, n.Type, err)}
	}
	return nil
}

// WorkspaceSnapshot is the full tree of one workspace.
type WorkspaceSnapshot struct {
	ID           string          `json:"id"`
	Config       WorkspaceConfig `json:"config"`
	Children     []SnapshotNode  `json:"children"`
	FrameSummary FrameSummary    `json:"frameSummary"`
}

// FrameSnapshot is the full tree of a frame.
type FrameSnapshot struct {
	ID         string              `json:"id"`
	Workspaces []WorkspaceSnapshot `json:"workspaces"`
}

// WorkspaceSummary is the light description returned by listing calls and
// carried by workspace events.
type WorkspaceSummary struct {
	ID     string          `json:"id"`
	Config WorkspaceConfig `json:"config"`
}

// ContainerSummary is carried by container events.
type ContainerSummary struct {
	ItemID string          `json:"itemId"`
	Type   ItemType        `json:"type,omitempty"`
	Config ContainerConfig `json:"config"`
}

// WindowSummary is carried by window events.
type WindowSummary struct {
	ItemID   string       `json:"itemId"`
	ParentID string       `json:"parentId,omitempty"`
	Config   WindowConfig `json:"config"`
}

// FrameState is the window state of a frame.
type FrameState string

const (
	FrameMaximized FrameState = "maximized"
	FrameMinimized FrameState = "minimized"
	FrameNormal    FrameState = "normal"
)

// Definition is a plain layout definition as transmitted to createWorkspace,
// addContainer and addWindow. Builders serialize into this shape.
type Definition struct {
	Type     ItemType       `json:"type"`
	Children []Definition   `json:"children,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	AppName  string         `json:"appName,omitempty"`
	WindowID string         `json:"windowId,omitempty"`
	URL      string         `json:"url,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// WorkspaceCreateConfig carries creation-time workspace options.
type WorkspaceCreateConfig struct {
	Title      string         `json:"title,omitempty"`
	FrameID    string         `json:"frameId,omitempty"`
	NewFrame   bool           `json:"newFrame,omitempty"`
	IsSelected *bool          `json:"isSelected,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// WorkspaceDefinition is the payload of createWorkspace.
type WorkspaceDefinition struct {
	Children []Definition           `json:"children"`
	Config   *WorkspaceCreateConfig `json:"config,omitempty"`
	Context  map[string]any         `json:"context,omitempty"`
}

// RestoreOptions is the payload of openWorkspace besides the layout name.
type RestoreOptions struct {
	Title    string         `json:"title,omitempty"`
	FrameID  string         `json:"frameId,omitempty"`
	NewFrame bool           `json:"newFrame,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// LayoutSummary names a saved workspace layout.
type LayoutSummary struct {
	Name string `json:"name"`
}

// Layout is an exported workspace layout. Components stay opaque to this
// module; they belong to the layout collaborator.
type Layout struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Components json.RawMessage `json:"components"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// HostWindow is a window as reported by the host's window collaborator,
// independently of any workspace placement.
type HostWindow struct {
	ID      string `json:"id"`
	AppName string `json:"appName,omitempty"`
	Title   string `json:"title,omitempty"`
}
