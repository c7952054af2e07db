package scriptlang

import (
	"scriptlang/internal/compiler"
	"scriptlang/internal/engine"
	"scriptlang/internal/ir"
)

// CompiledProject is the immutable output of CompileProject: every
// reachable script, shared type/function declarations, and frozen JSON
// globals. It is safe to share across many concurrently running engines.
type CompiledProject = ir.CompiledProject

// Snapshot is the plain-data engine state captured by Engine.Snapshot and
// accepted by Engine.Resume. Hosts that want snapshots durable across
// process restarts can hand it to internal/snapshot's codec and Store;
// within one process it can just be kept in memory.
type Snapshot = ir.Snapshot

// Value is a typed runtime value: a script variable, a call argument, a
// function result.
type Value = ir.Value

// ScriptType is a declared variable, parameter, or field type.
type ScriptType = ir.ScriptType

// Error is the stable-code error value returned from every fallible
// operation in this package.
type Error = ir.Error

// Output is what Engine.Next returns: exactly one of a text line, a
// choice boundary, an input boundary, or end.
type Output = engine.Output

// OutputKind tags Output's union.
type OutputKind = engine.OutputKind

const (
	OutputText    = engine.OutputText
	OutputChoices = engine.OutputChoices
	OutputInput   = engine.OutputInput
	OutputEnd     = engine.OutputEnd
)

// CompileProject parses and lowers a path-to-text source map (script,
// defs/types, and JSON documents) into a CompiledProject. A single
// CompiledProject can back any number of independent engines.
func CompileProject(pathToText map[string]string) (*CompiledProject, *Error) {
	return compiler.CompileProject(pathToText)
}

// Engine is a running instance of a compiled project: its own frame stack,
// RNG, and once-state. Not safe for concurrent use; every method call must
// return before the next one starts.
type Engine struct {
	inner *engine.Engine
}

// CreateEngine builds a new, unstarted engine over a compiled project.
func CreateEngine(compiled *CompiledProject, opts EngineOptions) (*Engine, *Error) {
	inner, err := engine.New(compiled, opts.HostFunctions, seedOrDefault(opts.RandomSeed), opts.VMStepBudget)
	if err != nil {
		return nil, err
	}
	return &Engine{inner: inner}, nil
}

func seedOrDefault(seed uint32) uint32 {
	if seed == 0 {
		return 1
	}
	return seed
}

// Start discards any prior run and begins scriptName at its root group.
func (e *Engine) Start(scriptName string, args map[string]Value) *Error {
	return e.inner.Start(scriptName, args)
}

// Next advances execution until it produces exactly one output.
func (e *Engine) Next() (*Output, *Error) {
	return e.inner.Next()
}

// Choose resolves a pending choice boundary by the index shown to the host.
func (e *Engine) Choose(index int) *Error {
	return e.inner.Choose(index)
}

// SubmitInput resolves a pending input boundary.
func (e *Engine) SubmitInput(text string) *Error {
	return e.inner.SubmitInput(text)
}

// Snapshot captures the engine's full state. Only legal while paused at a
// choice or input boundary.
func (e *Engine) Snapshot() (*Snapshot, *Error) {
	return e.inner.Snapshot()
}

// Resume restores a previously captured snapshot, replacing all current
// state.
func (e *Engine) Resume(snap *Snapshot) *Error {
	return e.inner.Resume(snap)
}

// Ended reports whether the engine has produced its final End output.
func (e *Engine) Ended() bool {
	return e.inner.Ended()
}

// InstanceID is the engine's opaque identity, embedded in every snapshot
// it captures.
func (e *Engine) InstanceID() string {
	return e.inner.InstanceID()
}
