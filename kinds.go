package workspaces

import (
	"encoding/json"
	"slices"
	"sort"
	"strings"

	"github.com/hazyhaar/workspaces/contract"
)

// WorkspaceLock changes the lock configuration of a workspace. Nil fields
// are left as they are.
type WorkspaceLock struct {
	AllowDrop              *bool `json:"allowDrop,omitempty"`
	AllowExtract           *bool `json:"allowExtract,omitempty"`
	AllowSplitters         *bool `json:"allowSplitters,omitempty"`
	AllowWindowReorder     *bool `json:"allowWindowReorder,omitempty"`
	ShowCloseButton        *bool `json:"showCloseButton,omitempty"`
	ShowSaveButton         *bool `json:"showSaveButton,omitempty"`
	ShowWindowCloseButtons *bool `json:"showWindowCloseButtons,omitempty"`
	ShowEjectButtons       *bool `json:"showEjectButtons,omitempty"`
	ShowAddWindowButtons   *bool `json:"showAddWindowButtons,omitempty"`
}

// ContainerLock changes the lock configuration of a row, column or group.
// Which fields apply depends on the kind; see Box.Lock.
type ContainerLock struct {
	AllowDrop           *bool `json:"allowDrop,omitempty"`
	AllowSplitters      *bool `json:"allowSplitters,omitempty"`
	AllowExtract        *bool `json:"allowExtract,omitempty"`
	AllowReorder        *bool `json:"allowReorder,omitempty"`
	ShowMaximizeButton  *bool `json:"showMaximizeButton,omitempty"`
	ShowEjectButton     *bool `json:"showEjectButton,omitempty"`
	ShowAddWindowButton *bool `json:"showAddWindowButton,omitempty"`
}

// WindowLock changes the lock configuration of a window.
type WindowLock struct {
	AllowExtract    *bool `json:"allowExtract,omitempty"`
	ShowCloseButton *bool `json:"showCloseButton,omitempty"`
}

// Bool returns a pointer to v, for lock options.
func Bool(v bool) *bool { return &v }

// kindRules is what each container kind accepts.
type kindRules struct {
	children    []contract.ItemType
	width       bool
	height      bool
	locks       []string
	maximizable bool
}

var boxRules = map[contract.ItemType]kindRules{
	contract.TypeRow: {
		children: []contract.ItemType{contract.TypeColumn, contract.TypeGroup, contract.TypeWindow},
		height:   true,
		locks:    []string{"allowDrop", "allowSplitters"},
	},
	contract.TypeColumn: {
		children: []contract.ItemType{contract.TypeRow, contract.TypeGroup, contract.TypeWindow},
		width:    true,
		locks:    []string{"allowDrop", "allowSplitters"},
	},
	contract.TypeGroup: {
		children: []contract.ItemType{contract.TypeWindow},
		width:    true,
		height:   true,
		locks: []string{"allowDrop", "allowExtract", "allowReorder",
			"showMaximizeButton", "showEjectButton", "showAddWindowButton"},
		maximizable: true,
	},
}

// lockFields returns the set json field names of a lock value.
func lockFields(lock any) (map[string]bool, error) {
	raw, err := json.Marshal(lock)
	if err != nil {
		return nil, err
	}
	var m map[string]bool
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// checkLock rejects an empty lock and fields outside allowed.
func checkLock(what string, lock any, allowed []string) error {
	fields, err := lockFields(lock)
	if err != nil {
		return contract.Programming("%s lock: %v", what, err)
	}
	if len(fields) == 0 {
		return contract.Programming("%s lock: no option set", what)
	}
	var bad []string
	for k := range fields {
		if allowed != nil && !slices.Contains(allowed, k) {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return contract.Programming("%s lock: %s not applicable", what, strings.Join(bad, ", "))
	}
	return nil
}

// Size is a requested item size in pixels. Zero leaves a dimension as it is.
type Size struct {
	Width  int
	Height int
}

func (s Size) check(what string, width, height bool) error {
	if s.Width < 0 || s.Height < 0 {
		return contract.Programming("%s size: dimensions must be positive", what)
	}
	if s.Width == 0 && s.Height == 0 {
		return contract.Programming("%s size: no dimension set", what)
	}
	if s.Width > 0 && !width {
		return contract.Programming("%s size: width is not applicable", what)
	}
	if s.Height > 0 && !height {
		return contract.Programming("%s size: height is not applicable", what)
	}
	return nil
}
