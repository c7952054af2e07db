package engine

import (
	"sort"

	"github.com/google/uuid"

	"scriptlang/internal/ir"
	"scriptlang/internal/sandbox"
)

// maxIterations bounds a single Next() pull cycle: a script that loops
// without ever emitting text, a choice, an input, or ending trips this
// guard rather than hanging the host forever.
const maxIterations = 100000

// SnapshotSchemaVersion is embedded in every captured snapshot and checked
// on resume; bump it whenever RuntimeFrame or PendingBoundary's shape
// changes in a way that breaks an older snapshot's layout.
const SnapshotSchemaVersion = 1

// Engine is the deterministic stack machine: a frame stack, a pending
// boundary (nil unless paused on a choice or input), the shared RNG, and
// once-state scoped per script. Grounded on a VM's split between owning
// state (vm.VirtualMachine) and stepping it (vm.ExecutionEngine), folded
// into one type here since this runtime's state is much smaller than a
// full MUD client session.
type Engine struct {
	project *ir.CompiledProject
	funcs   *sandbox.FunctionTable
	globals *sandbox.Globals
	rng     *sandbox.RNG

	instanceID   string
	maxCodeSteps int

	frames      []*ir.RuntimeFrame
	nextFrameID int
	pending     *ir.PendingBoundary
	ended       bool

	onceState map[string]map[string]bool
}

// New builds an engine for a compiled project. hostFuncs is validated
// against defs-function names and the reserved "random" name before the
// engine can start anything. maxCodeSteps bounds a single node's expression
// evaluation (0 means unbounded); see sandbox.Env's Steps/MaxSteps doc for
// why this is a deterministic step count rather than a wall-clock timeout.
func New(compiled *ir.CompiledProject, hostFuncs map[string]sandbox.HostFunc, seed uint32, maxCodeSteps int) (*Engine, *ir.Error) {
	defs := make(map[string]*sandbox.DefsFunc, len(compiled.Functions))
	for name, decl := range compiled.Functions {
		defs[name] = &sandbox.DefsFunc{Decl: decl, Body: compiled.FunctionBodies[name]}
	}
	funcs, err := sandbox.BuildFunctionTable(defs, hostFuncs)
	if err != nil {
		return nil, err
	}

	globalValues := make(map[string]ir.Value, len(compiled.JSONGlobals))
	for name, v := range compiled.JSONGlobals {
		if val, ok := v.(ir.Value); ok {
			globalValues[name] = val
		}
	}

	return &Engine{
		project:      compiled,
		funcs:        funcs,
		globals:      sandbox.NewGlobals(globalValues),
		rng:          sandbox.NewRNG(seed),
		instanceID:   uuid.NewString(),
		maxCodeSteps: maxCodeSteps,
		onceState:    map[string]map[string]bool{},
	}, nil
}

// InstanceID returns the engine's opaque identity, embedded in every
// snapshot it captures.
func (e *Engine) InstanceID() string { return e.instanceID }

// Ended reports whether the engine has produced its final End output.
func (e *Engine) Ended() bool { return e.ended }

// Start discards any prior run and begins scriptName at its root group,
// binding args by declared parameter name. Unknown names are
// ENGINE_CALL_ARG_UNKNOWN; a value that doesn't conform to its parameter's
// declared type is ENGINE_TYPE_MISMATCH; an omitted parameter gets its
// type's zero value.
func (e *Engine) Start(scriptName string, args map[string]ir.Value) *ir.Error {
	script, ok := e.project.Scripts[scriptName]
	if !ok {
		return ir.Errf("ENGINE_CALL_TARGET_UNKNOWN", nil, "unknown script \""+scriptName+"\"")
	}
	vars, types, err := e.buildNamedArgScope(script.Params, args)
	if err != nil {
		return err
	}
	e.frames = []*ir.RuntimeFrame{{
		FrameID:    e.newFrameID(),
		ScriptName: scriptName,
		GroupID:    script.RootGroupID,
		NodeIndex:  0,
		Scope:      vars,
		VarTypes:   types,
		Completion: ir.CompletionNone,
		ScriptRoot: true,
	}}
	e.pending = nil
	e.ended = false
	return nil
}

// Next advances the machine until it produces exactly one output: a line
// of text, a choice boundary, an input boundary, or end. Calling it again
// while a boundary is still pending re-renders the same boundary rather
// than advancing past it.
func (e *Engine) Next() (*Output, *ir.Error) {
	if e.pending != nil {
		return e.boundaryOutput(), nil
	}
	if e.ended {
		return &Output{Kind: OutputEnd}, nil
	}

	steps := 0
	for {
		steps++
		if steps > maxIterations {
			return nil, ir.Errf("ENGINE_GUARD_EXCEEDED", nil, "execution did not yield after the iteration guard")
		}

		if len(e.frames) == 0 {
			e.ended = true
			return &Output{Kind: OutputEnd}, nil
		}

		top := e.frames[len(e.frames)-1]
		script, ok := e.project.Scripts[top.ScriptName]
		if !ok {
			return nil, ir.Errf("ENGINE_NODE_UNKNOWN", nil, "unknown script \""+top.ScriptName+"\" on active frame")
		}
		group, ok := script.Groups[top.GroupID]
		if !ok {
			return nil, ir.Errf("ENGINE_NODE_UNKNOWN", nil, "unknown group \""+top.GroupID+"\"")
		}

		if top.NodeIndex >= len(group.Nodes) {
			if err := e.completeFrame(top); err != nil {
				return nil, err
			}
			if e.ended {
				return &Output{Kind: OutputEnd}, nil
			}
			continue
		}

		node := group.Nodes[top.NodeIndex]
		out, err := e.execNode(top, node)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
}

// Choose resolves a pending choice boundary by the index shown to the
// host, pushing the selected option's body as a child frame.
func (e *Engine) Choose(index int) *ir.Error {
	if e.pending == nil || e.pending.Kind != ir.BoundaryChoice {
		return ir.Errf("ENGINE_NODE_UNKNOWN", nil, "no pending choice boundary")
	}
	if index < 0 || index >= len(e.pending.Items) {
		return ir.Errf("ENGINE_CHOICE_INDEX_OUT_OF_RANGE", nil, "choice index out of range")
	}
	item := e.pending.Items[index]
	top := e.frames[len(e.frames)-1]
	group := e.project.Scripts[top.ScriptName].Groups[top.GroupID]
	node := group.Nodes[top.NodeIndex]

	var opt *ir.Option
	for i := range node.Options {
		if node.Options[i].ID == item.ID {
			opt = &node.Options[i]
			break
		}
	}
	if opt == nil {
		return ir.Errf("ENGINE_NODE_UNKNOWN", nil, "selected option no longer exists")
	}
	if opt.Once {
		e.markOnce(top.ScriptName, "option:"+opt.ID)
	}
	e.pending = nil
	e.pushGroupFrame(top.ScriptName, opt.GroupID, ir.CompletionChoiceBody)
	return nil
}

// SubmitInput resolves a pending input boundary, assigning text to the
// input node's target variable through the normal typed-write path.
func (e *Engine) SubmitInput(text string) *ir.Error {
	if e.pending == nil || e.pending.Kind != ir.BoundaryInput {
		return ir.Errf("ENGINE_NODE_UNKNOWN", nil, "no pending input boundary")
	}
	idx := len(e.frames) - 1
	declared, ok := e.typeOfInChain(idx, e.pending.TargetVar)
	if !ok {
		return ir.Errf("ENGINE_VAR_UNDEFINED", nil, "input target \""+e.pending.TargetVar+"\" is not declared")
	}
	v := ir.Value{Type: ir.String(), String: text}
	if !sandbox.Conforms(v, declared) {
		return ir.Errf("ENGINE_TYPE_MISMATCH", nil, "submitted text does not match declared type of \""+e.pending.TargetVar+"\"")
	}
	e.writeVarPathInChain(idx, e.pending.TargetVar, v)
	e.pending = nil
	e.frames[idx].NodeIndex++
	return nil
}

// Snapshot captures the full machine state so it can be persisted and
// restored by internal/snapshot later. Only legal while paused at a choice
// or input boundary; mid-execution state can't be resumed into meaningfully
// since there is no boundary to re-render on the next Next() call.
func (e *Engine) Snapshot() (*ir.Snapshot, *ir.Error) {
	if e.pending == nil {
		return nil, ir.Errf("SNAPSHOT_NOT_AT_BOUNDARY", nil, "snapshot is only valid while paused at a choice or input boundary")
	}
	frames := make([]ir.RuntimeFrame, len(e.frames))
	for i, f := range e.frames {
		frames[i] = *f
	}
	onceState := make(map[string][]string, len(e.onceState))
	for script, markers := range e.onceState {
		keys := make([]string, 0, len(markers))
		for k := range markers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		onceState[script] = keys
	}
	return &ir.Snapshot{
		SchemaVersion:     SnapshotSchemaVersion,
		CompilerVersion:   e.project.CompilerVersion,
		EngineInstanceID:  e.instanceID,
		RuntimeFrames:     frames,
		RNGState:          int64(e.rng.State()),
		PendingBoundary:   e.pending,
		OnceStateByScript: onceState,
	}, nil
}

// Resume restores a previously captured snapshot, replacing all current
// state. The compiler version must match the project this engine was
// built from; a mismatch is a stale-snapshot error, not a panic.
func (e *Engine) Resume(snap *ir.Snapshot) *ir.Error {
	if snap.CompilerVersion != e.project.CompilerVersion {
		return ir.Errf("SNAPSHOT_COMPILER_VERSION_MISMATCH", nil, "snapshot was compiled by a different compiler version")
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return ir.Errf("SNAPSHOT_SCHEMA_VERSION_MISMATCH", nil, "unsupported snapshot schema version")
	}

	frames := make([]*ir.RuntimeFrame, len(snap.RuntimeFrames))
	maxID := 0
	for i := range snap.RuntimeFrames {
		f := snap.RuntimeFrames[i]
		frames[i] = &f
		if f.FrameID > maxID {
			maxID = f.FrameID
		}
	}

	onceState := make(map[string]map[string]bool, len(snap.OnceStateByScript))
	for script, markers := range snap.OnceStateByScript {
		m := make(map[string]bool, len(markers))
		for _, k := range markers {
			m[k] = true
		}
		onceState[script] = m
	}

	e.frames = frames
	e.pending = snap.PendingBoundary
	e.onceState = onceState
	e.rng.SetState(uint32(snap.RNGState))
	e.nextFrameID = maxID
	e.ended = len(frames) == 0 && snap.PendingBoundary == nil
	return nil
}

func (e *Engine) newFrameID() int {
	e.nextFrameID++
	return e.nextFrameID
}

func (e *Engine) boundaryOutput() *Output {
	switch e.pending.Kind {
	case ir.BoundaryChoice:
		return &Output{Kind: OutputChoices, Items: e.pending.Items, PromptText: e.pending.PromptText, HasPrompt: e.pending.HasPrompt}
	default:
		return &Output{Kind: OutputInput, PromptText: e.pending.PromptText, HasPrompt: e.pending.HasPrompt, DefaultText: e.pending.DefaultText}
	}
}

func (e *Engine) onceSeen(scriptName, key string) bool {
	m, ok := e.onceState[scriptName]
	if !ok {
		return false
	}
	return m[key]
}

func (e *Engine) markOnce(scriptName, key string) {
	m, ok := e.onceState[scriptName]
	if !ok {
		m = map[string]bool{}
		e.onceState[scriptName] = m
	}
	m[key] = true
}
