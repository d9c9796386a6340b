package contract

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// CatalogVersion is the protocol version both sides of the bus must agree on.
const CatalogVersion = "1.4.0"

// Operation is one entry of the closed operation catalog.
type Operation struct {
	Name string
	// Capability names the host feature an operation depends on. Empty means
	// every host serves it.
	Capability string

	args   *jsonschema.Resolved // nil when the operation takes no arguments
	result *jsonschema.Resolved
}

// HasArgs reports whether the operation declares an argument schema.
func (o *Operation) HasArgs() bool { return o.args != nil }

// ValidateArgs checks an outbound argument value. It is marshalled to JSON
// first so that struct tags decide the wire shape being validated.
func (o *Operation) ValidateArgs(args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ValidationError{Op: o.Name, Direction: DirectionArguments, Cause: err}
	}
	if o.args == nil {
		return raw, nil
	}
	if err := validateRaw(o.args, raw); err != nil {
		return nil, &ValidationError{Op: o.Name, Direction: DirectionArguments, Cause: err}
	}
	return raw, nil
}

// ValidateResult checks a raw result returned by the authority.
func (o *Operation) ValidateResult(raw json.RawMessage) error {
	if err := validateRaw(o.result, raw); err != nil {
		return &ValidationError{Op: o.Name, Direction: DirectionResult, Cause: err}
	}
	return nil
}

func validateRaw(r *jsonschema.Resolved, raw []byte) error {
	var inst any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &inst); err != nil {
			return err
		}
	}
	return r.Validate(inst)
}

func compile(name, src string) *jsonschema.Resolved {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(src), &s); err != nil {
		panic(fmt.Sprintf("contract: schema %s: %v", name, err))
	}
	r, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("contract: resolve schema %s: %v", name, err))
	}
	return r
}

// Operation names.
const (
	OpGetAllFramesSummaries     = "getAllFramesSummaries"
	OpGetFrameSummary           = "getFrameSummary"
	OpGetFrameSnapshot          = "getFrameSnapshot"
	OpGetFrameState             = "getFrameState"
	OpChangeFrameState          = "changeFrameState"
	OpMoveFrame                 = "moveFrame"
	OpGetAllWorkspacesSummaries = "getAllWorkspacesSummaries"
	OpGetWorkspaceSnapshot      = "getWorkspaceSnapshot"
	OpCreateWorkspace           = "createWorkspace"
	OpOpenWorkspace             = "openWorkspace"
	OpIsWindowInWorkspace       = "isWindowInWorkspace"
	OpCloseItem                 = "closeItem"
	OpFocusItem                 = "focusItem"
	OpMaximizeItem              = "maximizeItem"
	OpRestoreItem               = "restoreItem"
	OpResizeItem                = "resizeItem"
	OpSetItemTitle              = "setItemTitle"
	OpAddWindow                 = "addWindow"
	OpAddContainer              = "addContainer"
	OpForceLoadWindow           = "forceLoadWindow"
	OpEjectWindow               = "ejectWindow"
	OpMoveWindowTo              = "moveWindowTo"
	OpLockWorkspace             = "lockWorkspace"
	OpLockContainer             = "lockContainer"
	OpLockWindow                = "lockWindow"
	OpHibernateWorkspace        = "hibernateWorkspace"
	OpResumeWorkspace           = "resumeWorkspace"
	OpBundleWorkspace           = "bundleWorkspace"
	OpSaveLayout                = "saveLayout"
	OpDeleteLayout              = "deleteLayout"
	OpImportLayout              = "importLayout"
	OpExportAllLayouts          = "exportAllLayouts"
	OpGetAllLayoutsSummaries    = "getAllLayoutsSummaries"
)

// Capabilities gating optional operations.
const (
	CapFrameState  = "frame state control"
	CapHibernation = "workspace hibernation"
)

const (
	strID   = `{"type":"string","minLength":1}`
	anyVal  = `{}`
	itemArg = `{"type":"object","required":["itemId"],"properties":{"itemId":` + strID + `}}`
	wsArg   = `{"type":"object","required":["workspaceId"],"properties":{"workspaceId":` + strID + `}}`
	frame   = `{"type":"object","required":["id"],"properties":{"id":` + strID + `}}`

	nodeDefs = `"$defs":{"node":{"type":"object","required":["id","type"],"properties":{` +
		`"id":` + strID + `,` +
		`"type":{"enum":["row","column","group","window"]},` +
		`"config":{"type":["object","null"]},` +
		`"children":{"type":["array","null"],"items":{"$ref":"#/$defs/node"}}}}}`

	workspaceSnapshotBody = `"type":"object","required":["id","config","frameSummary"],"properties":{` +
		`"id":` + strID + `,` +
		`"config":{"type":"object"},` +
		`"children":{"type":["array","null"],"items":{"$ref":"#/$defs/node"}},` +
		`"frameSummary":` + frame + `}`

	workspaceSnapshot = `{` + workspaceSnapshotBody + `,` + nodeDefs + `}`

	frameSnapshot = `{"type":"object","required":["id"],"properties":{"id":` + strID + `,` +
		`"workspaces":{"type":["array","null"],"items":{` + workspaceSnapshotBody + `}}},` + nodeDefs + `}`

	workspaceSummary = `{"type":"object","required":["id","config"],"properties":{"id":` + strID + `,"config":{"type":"object"}}}`
)

func listOf(item string) string {
	return `{"type":"object","required":["summaries"],"properties":{"summaries":{"type":["array","null"],"items":` + item + `}}}`
}

const definition = `{"type":"object","required":["type"],"properties":{` +
	`"type":{"enum":["row","column","group","window"]},` +
	`"children":{"type":["array","null"],"items":{"type":"object"}},` +
	`"config":{"type":["object","null"]}}}`

var catalog = map[string]*Operation{}

func register(name, capability, args, result string) {
	op := &Operation{Name: name, Capability: capability, result: compile(name+".result", result)}
	if args != "" {
		op.args = compile(name+".args", args)
	}
	catalog[name] = op
}

func init() {
	register(OpGetAllFramesSummaries, "", "", listOf(frame))
	register(OpGetFrameSummary, "", itemArg, frame)
	register(OpGetFrameSnapshot, "", itemArg, frameSnapshot)
	register(OpGetFrameState, CapFrameState, itemArg,
		`{"type":"object","required":["state"],"properties":{"state":{"enum":["maximized","minimized","normal"]}}}`)
	register(OpChangeFrameState, CapFrameState,
		`{"type":"object","required":["frameId","requestedState"],"properties":{"frameId":`+strID+`,"requestedState":{"enum":["maximized","minimized","normal"]}}}`,
		anyVal)
	register(OpMoveFrame, "",
		`{"type":"object","required":["itemId"],"properties":{"itemId":`+strID+`,"top":{"type":"number"},"left":{"type":"number"},"relative":{"type":"boolean"}}}`,
		anyVal)

	register(OpGetAllWorkspacesSummaries, "", "", listOf(workspaceSummary))
	register(OpGetWorkspaceSnapshot, "", itemArg, workspaceSnapshot)
	register(OpCreateWorkspace, "",
		`{"type":"object","required":["children"],"properties":{"children":{"type":"array","items":`+definition+`},"config":{"type":["object","null"]},"context":{"type":["object","null"]}}}`,
		workspaceSnapshot)
	register(OpOpenWorkspace, "",
		`{"type":"object","required":["name"],"properties":{"name":`+strID+`,"restoreOptions":{"type":["object","null"]}}}`,
		workspaceSnapshot)
	register(OpIsWindowInWorkspace, "", itemArg,
		`{"type":"object","required":["inWorkspace"],"properties":{"inWorkspace":{"type":"boolean"}}}`)

	register(OpCloseItem, "", itemArg, anyVal)
	register(OpFocusItem, "", itemArg, anyVal)
	register(OpMaximizeItem, "", itemArg, anyVal)
	register(OpRestoreItem, "", itemArg, anyVal)
	register(OpResizeItem, "",
		`{"type":"object","required":["itemId"],"properties":{"itemId":`+strID+`,`+
			`"width":{"type":"number","exclusiveMinimum":0},"height":{"type":"number","exclusiveMinimum":0},"relative":{"type":"boolean"}},`+
			`"anyOf":[{"required":["width"]},{"required":["height"]}]}`,
		anyVal)
	register(OpSetItemTitle, "",
		`{"type":"object","required":["itemId","title"],"properties":{"itemId":`+strID+`,"title":{"type":"string"}}}`,
		anyVal)

	register(OpAddWindow, "",
		`{"type":"object","required":["definition","parentId","parentType"],"properties":{`+
			`"definition":{"type":"object","required":["type"],"properties":{"type":{"const":"window"},"appName":{"type":"string"},"windowId":{"type":"string"}}},`+
			`"parentId":`+strID+`,"parentType":{"enum":["workspace","row","column","group"]}}}`,
		`{"type":"object","required":["itemId"],"properties":{"itemId":`+strID+`,"windowId":{"type":"string"}}}`)
	register(OpAddContainer, "",
		`{"type":"object","required":["definition","parentId","parentType"],"properties":{`+
			`"definition":`+definition+`,"parentId":`+strID+`,"parentType":{"enum":["workspace","row","column","group"]}}}`,
		`{"type":"object","required":["itemId"],"properties":{"itemId":`+strID+`}}`)
	register(OpForceLoadWindow, "", itemArg,
		`{"type":"object","required":["windowId"],"properties":{"windowId":`+strID+`}}`)
	register(OpEjectWindow, "", itemArg,
		`{"type":"object","required":["windowId"],"properties":{"windowId":`+strID+`}}`)
	register(OpMoveWindowTo, "",
		`{"type":"object","required":["itemId","containerId"],"properties":{"itemId":`+strID+`,"containerId":`+strID+`}}`,
		anyVal)

	register(OpLockWorkspace, "",
		`{"type":"object","required":["workspaceId","config"],"properties":{"workspaceId":`+strID+`,"config":{"type":"object"}}}`,
		anyVal)
	register(OpLockContainer, "",
		`{"type":"object","required":["itemId","type","config"],"properties":{"itemId":`+strID+`,"type":{"enum":["row","column","group"]},"config":{"type":"object"}}}`,
		anyVal)
	register(OpLockWindow, "",
		`{"type":"object","required":["windowPlacementId","config"],"properties":{"windowPlacementId":`+strID+`,"config":{"type":"object"}}}`,
		anyVal)
	register(OpHibernateWorkspace, CapHibernation, wsArg, anyVal)
	register(OpResumeWorkspace, CapHibernation, wsArg, anyVal)
	register(OpBundleWorkspace, "",
		`{"type":"object","required":["type","workspaceId"],"properties":{"type":{"enum":["row","column"]},"workspaceId":`+strID+`}}`,
		anyVal)

	register(OpSaveLayout, "",
		`{"type":"object","required":["name","workspaceId"],"properties":{"name":`+strID+`,"workspaceId":`+strID+`,"saveContext":{"type":"boolean"}}}`,
		anyVal)
	register(OpDeleteLayout, "",
		`{"type":"object","required":["name"],"properties":{"name":`+strID+`}}`,
		anyVal)
	register(OpImportLayout, "",
		`{"type":"object","required":["layout"],"properties":{"layout":{"type":"object","required":["name","components"]},"mode":{"enum":["replace","merge"]}}}`,
		anyVal)
	register(OpExportAllLayouts, "", "",
		`{"type":"object","required":["layouts"],"properties":{"layouts":{"type":["array","null"],"items":{"type":"object","required":["name"]}}}}`)
	register(OpGetAllLayoutsSummaries, "", "", listOf(`{"type":"object","required":["name"]}`))
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (*Operation, bool) {
	op, ok := catalog[name]
	return op, ok
}

// Operations returns the sorted catalog names.
func Operations() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
