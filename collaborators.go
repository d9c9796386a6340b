package workspaces

import (
	"context"

	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/layouts"
)

// Windows reports the host windows, independently of workspace placement.
// Window.ForceLoad waits on it until the loaded window is reported.
type Windows interface {
	List(ctx context.Context) ([]contract.HostWindow, error)
	OnWindowAdded(fn func(contract.HostWindow)) (unsubscribe func())
}

// Layouts persists named workspace layouts. layouts.Remote delegates to the
// authority; layouts.Store keeps them in SQLite.
type Layouts interface {
	Save(ctx context.Context, req layouts.SaveRequest) error
	Delete(ctx context.Context, name string) error
	Import(ctx context.Context, list []contract.Layout, mode layouts.ImportMode) error
	Export(ctx context.Context) ([]contract.Layout, error)
	List(ctx context.Context) ([]contract.LayoutSummary, error)
}

// layoutLoader is implemented by Layouts that hold layouts locally, in which
// case restoring expands the layout client side.
type layoutLoader interface {
	Load(ctx context.Context, name string) (contract.Layout, error)
}

// Contexts stores the context object of each workspace.
type Contexts interface {
	GetContext(ctx context.Context, workspaceID string) (map[string]any, error)
	SetContext(ctx context.Context, workspaceID string, data map[string]any) error
	UpdateContext(ctx context.Context, workspaceID string, delta map[string]any) error
	SubscribeContext(workspaceID string, fn func(map[string]any)) (unsubscribe func())
}
