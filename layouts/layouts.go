// Package layouts provides the layout and context collaborators of the
// engine. Remote leaves layouts with the authority and only forwards calls;
// Store keeps layouts and workspace contexts in SQLite so they survive the
// authority and can be restored client side.
package layouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/hazyhaar/workspaces/contract"
)

// ErrLayoutNotFound is returned when a named layout does not exist.
var ErrLayoutNotFound = errors.New("layouts: layout not found")

// SaveRequest asks to save one workspace under Name.
type SaveRequest struct {
	Name        string `json:"name"`
	WorkspaceID string `json:"workspaceId"`
	SaveContext bool   `json:"saveContext,omitempty"`
}

// ImportMode decides what happens to an existing layout of the same name.
type ImportMode string

const (
	ImportReplace ImportMode = "replace"
	ImportMerge   ImportMode = "merge" // existing layouts are kept
)

// Sender is the part of the bridge Remote needs.
type Sender interface {
	Send(ctx context.Context, op string, args any) (json.RawMessage, error)
	SendInto(ctx context.Context, op string, args, out any) error
}

// Remote forwards layout calls to the authority.
type Remote struct {
	sender Sender
}

// NewRemote creates a Remote over s.
func NewRemote(s Sender) *Remote {
	return &Remote{sender: s}
}

func (r *Remote) Save(ctx context.Context, req SaveRequest) error {
	_, err := r.sender.Send(ctx, contract.OpSaveLayout, req)
	return err
}

func (r *Remote) Delete(ctx context.Context, name string) error {
	_, err := r.sender.Send(ctx, contract.OpDeleteLayout, map[string]string{"name": name})
	return err
}

// Import sends the layouts one by one and stops at the first failure.
func (r *Remote) Import(ctx context.Context, list []contract.Layout, mode ImportMode) error {
	if mode == "" {
		mode = ImportReplace
	}
	for _, l := range list {
		args := struct {
			Layout contract.Layout `json:"layout"`
			Mode   ImportMode      `json:"mode"`
		}{l, mode}
		if _, err := r.sender.Send(ctx, contract.OpImportLayout, args); err != nil {
			return fmt.Errorf("import %s: %w", l.Name, err)
		}
	}
	return nil
}

func (r *Remote) Export(ctx context.Context) ([]contract.Layout, error) {
	var res struct {
		Layouts []contract.Layout `json:"layouts"`
	}
	if err := r.sender.SendInto(ctx, contract.OpExportAllLayouts, nil, &res); err != nil {
		return nil, err
	}
	return res.Layouts, nil
}

func (r *Remote) List(ctx context.Context) ([]contract.LayoutSummary, error) {
	var res struct {
		Summaries []contract.LayoutSummary `json:"summaries"`
	}
	if err := r.sender.SendInto(ctx, contract.OpGetAllLayoutsSummaries, nil, &res); err != nil {
		return nil, err
	}
	return res.Summaries, nil
}

// FromSnapshot converts a live workspace tree into the plain definitions a
// layout stores. Hosted window ids are dropped: a restored layout opens new
// windows.
func FromSnapshot(nodes []contract.SnapshotNode) ([]contract.Definition, error) {
	out := make([]contract.Definition, 0, len(nodes))
	for _, n := range nodes {
		def := contract.Definition{Type: n.Type}
		switch {
		case n.Type == contract.TypeWindow:
			var cfg contract.WindowConfig
			if err := n.DecodeConfig(&cfg); err != nil {
				return nil, err
			}
			def.AppName = cfg.AppName
			def.URL = cfg.URL
			if cfg.Title != "" && cfg.Title != cfg.AppName {
				def.Config = map[string]any{"title": cfg.Title}
			}
		case n.Type.IsContainer():
			var cfg contract.ContainerConfig
			if err := n.DecodeConfig(&cfg); err != nil {
				return nil, err
			}
			def.Config = sizeConfig(cfg.Width, cfg.Height)
			children, err := FromSnapshot(n.Children)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				def.Children = children
			}
		default:
			return nil, fmt.Errorf("layouts: node %s has unknown type %q", n.ID, n.Type)
		}
		out = append(out, def)
	}
	return out, nil
}

func sizeConfig(width, height int) map[string]any {
	m := map[string]any{}
	if width > 0 {
		m["width"] = width
	}
	if height > 0 {
		m["height"] = height
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Definitions decodes the components of a layout saved by Store.
func Definitions(l contract.Layout) ([]contract.Definition, error) {
	if len(l.Components) == 0 {
		return []contract.Definition{}, nil
	}
	var defs []contract.Definition
	if err := json.Unmarshal(l.Components, &defs); err != nil {
		return nil, fmt.Errorf("layouts: %s components: %w", l.Name, err)
	}
	if defs == nil {
		defs = []contract.Definition{}
	}
	return defs, nil
}

// merge applies delta onto base in place and returns it.
func merge(base, delta map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	maps.Copy(base, delta)
	return base
}
