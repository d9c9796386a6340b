// Package builder assembles workspace and container definitions offline,
// before anything is sent to the authority. A builder holds either plain
// window definitions or nested builders; Definition flattens the whole tree
// once, depth-first, when the caller is ready to create it.
//
//	wb := builder.NewWorkspace(&contract.WorkspaceCreateConfig{Title: "Trading"})
//	row, _ := wb.AddRow(nil)
//	row.AddWindow(builder.Window{AppName: "blotter"})
//	def := wb.WorkspaceDefinition()
//
// Shape rules are enforced as children are added: a workspace holds only
// rows, only columns, or a single group; a row holds columns, groups and
// windows; a column holds rows, groups and windows; a group holds windows.
package builder

import (
	"maps"

	"github.com/hazyhaar/workspaces/contract"
)

// Window is a window definition added to a builder.
type Window struct {
	AppName  string
	WindowID string
	URL      string
	Context  map[string]any
	Config   map[string]any
}

func (w Window) definition() contract.Definition {
	return contract.Definition{
		Type:     contract.TypeWindow,
		AppName:  w.AppName,
		WindowID: w.WindowID,
		URL:      w.URL,
		Context:  maps.Clone(w.Context),
		Config:   maps.Clone(w.Config),
	}
}

// rootShape is the closed set of shapes a workspace root can take. It is
// fixed by the first child added.
type rootShape int

const (
	shapeEmpty rootShape = iota
	shapeAllRows
	shapeAllColumns
	shapeSingleGroup
)

func (s rootShape) String() string {
	switch s {
	case shapeAllRows:
		return "rows"
	case shapeAllColumns:
		return "columns"
	case shapeSingleGroup:
		return "a single group"
	}
	return "nothing"
}

var allowed = map[contract.ItemType][]contract.ItemType{
	contract.TypeRow:    {contract.TypeColumn, contract.TypeGroup, contract.TypeWindow},
	contract.TypeColumn: {contract.TypeRow, contract.TypeGroup, contract.TypeWindow},
	contract.TypeGroup:  {contract.TypeWindow},
}

// child is either a finished definition or a nested builder.
type child struct {
	def    *contract.Definition
	nested *Builder
}

// Builder is not safe for concurrent use.
type Builder struct {
	kind     contract.ItemType
	config   map[string]any
	children []child
	shape    rootShape

	wsConfig *contract.WorkspaceCreateConfig
	context  map[string]any
}

// NewWorkspace starts a workspace definition.
func NewWorkspace(cfg *contract.WorkspaceCreateConfig) *Builder {
	return &Builder{kind: contract.TypeWorkspace, wsConfig: cfg}
}

// NewContainer starts a standalone row, column or group definition, for use
// with addContainer on an existing tree.
func NewContainer(kind contract.ItemType, config map[string]any) (*Builder, error) {
	if !kind.IsContainer() {
		return nil, contract.Programming("builder: %q is not a container type", kind)
	}
	return &Builder{kind: kind, config: maps.Clone(config)}, nil
}

// Kind returns the item type being built.
func (b *Builder) Kind() contract.ItemType { return b.kind }

// SetContext sets the workspace context sent with the definition.
func (b *Builder) SetContext(ctx map[string]any) error {
	if b.kind != contract.TypeWorkspace {
		return contract.Programming("builder: only workspaces carry a context")
	}
	b.context = maps.Clone(ctx)
	return nil
}

// AddRow appends a row and returns its builder.
func (b *Builder) AddRow(config map[string]any) (*Builder, error) {
	return b.addContainer(contract.TypeRow, config)
}

// AddColumn appends a column and returns its builder.
func (b *Builder) AddColumn(config map[string]any) (*Builder, error) {
	return b.addContainer(contract.TypeColumn, config)
}

// AddGroup appends a group and returns its builder.
func (b *Builder) AddGroup(config map[string]any) (*Builder, error) {
	return b.addContainer(contract.TypeGroup, config)
}

func (b *Builder) addContainer(kind contract.ItemType, config map[string]any) (*Builder, error) {
	if err := b.admit(kind); err != nil {
		return nil, err
	}
	nested := &Builder{kind: kind, config: maps.Clone(config)}
	b.children = append(b.children, child{nested: nested})
	return nested, nil
}

// AddWindow appends a window definition.
func (b *Builder) AddWindow(w Window) error {
	if err := b.admit(contract.TypeWindow); err != nil {
		return err
	}
	def := w.definition()
	b.children = append(b.children, child{def: &def})
	return nil
}

// AddBuilder appends a builder created elsewhere.
func (b *Builder) AddBuilder(nested *Builder) error {
	if nested == nil || nested == b {
		return contract.Programming("builder: invalid nested builder")
	}
	if err := b.admit(nested.kind); err != nil {
		return err
	}
	b.children = append(b.children, child{nested: nested})
	return nil
}

// AddDefinition appends a plain definition after checking its whole subtree
// against the shape rules.
func (b *Builder) AddDefinition(def contract.Definition) error {
	if err := checkTree(def); err != nil {
		return err
	}
	if err := b.admit(def.Type); err != nil {
		return err
	}
	b.children = append(b.children, child{def: &def})
	return nil
}

func checkTree(def contract.Definition) error {
	if def.Type == contract.TypeWindow {
		if len(def.Children) > 0 {
			return contract.Programming("builder: a window cannot have children")
		}
		return nil
	}
	kinds, ok := allowed[def.Type]
	if !ok {
		return contract.Programming("builder: unknown definition type %q", def.Type)
	}
	for _, c := range def.Children {
		if !containsKind(kinds, c.Type) {
			return contract.Programming("builder: a %s cannot hold a %s", def.Type, c.Type)
		}
		if err := checkTree(c); err != nil {
			return err
		}
	}
	return nil
}

func containsKind(list []contract.ItemType, k contract.ItemType) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

// admit checks that a child of kind may be appended and, for workspaces,
// advances the root shape.
func (b *Builder) admit(kind contract.ItemType) error {
	if b.kind != contract.TypeWorkspace {
		if !containsKind(allowed[b.kind], kind) {
			return contract.Programming("builder: a %s cannot hold a %s", b.kind, kind)
		}
		return nil
	}

	next, err := b.shape.accept(kind)
	if err != nil {
		return err
	}
	b.shape = next
	return nil
}

func (s rootShape) accept(kind contract.ItemType) (rootShape, error) {
	switch s {
	case shapeEmpty:
		switch kind {
		case contract.TypeRow:
			return shapeAllRows, nil
		case contract.TypeColumn:
			return shapeAllColumns, nil
		case contract.TypeGroup:
			return shapeSingleGroup, nil
		}
		return s, contract.Programming("builder: a workspace cannot directly hold a %s", kind)
	case shapeAllRows:
		if kind == contract.TypeRow {
			return s, nil
		}
	case shapeAllColumns:
		if kind == contract.TypeColumn {
			return s, nil
		}
	}
	return s, contract.Programming("builder: cannot add a %s to a workspace holding %s", kind, s)
}

// CheckRoot reports whether a workspace whose root currently holds the
// given child kinds may take one more child of kind. It applies the same
// rule builders enforce, for callers mutating a live workspace.
func CheckRoot(existing []contract.ItemType, kind contract.ItemType) error {
	shape := shapeEmpty
	for _, k := range existing {
		next, err := shape.accept(k)
		if err != nil {
			// The live tree is already irregular; only the new child is judged.
			break
		}
		shape = next
	}
	_, err := shape.accept(kind)
	return err
}

// Definition flattens the builder into a plain definition. For workspaces
// use WorkspaceDefinition.
func (b *Builder) Definition() contract.Definition {
	def := contract.Definition{Type: b.kind, Config: maps.Clone(b.config)}
	def.Children = b.serializeChildren()
	return def
}

// WorkspaceDefinition flattens a workspace builder into the createWorkspace
// payload.
func (b *Builder) WorkspaceDefinition() (contract.WorkspaceDefinition, error) {
	if b.kind != contract.TypeWorkspace {
		return contract.WorkspaceDefinition{}, contract.Programming("builder: %s is not a workspace", b.kind)
	}
	wd := contract.WorkspaceDefinition{
		Children: b.serializeChildren(),
		Context:  maps.Clone(b.context),
	}
	if b.wsConfig != nil {
		cfg := *b.wsConfig
		wd.Config = &cfg
	}
	if wd.Children == nil {
		wd.Children = []contract.Definition{}
	}
	return wd, nil
}

func (b *Builder) serializeChildren() []contract.Definition {
	if len(b.children) == 0 {
		return nil
	}
	out := make([]contract.Definition, 0, len(b.children))
	for _, c := range b.children {
		if c.nested != nil {
			out = append(out, c.nested.Definition())
			continue
		}
		out = append(out, *c.def)
	}
	return out
}
