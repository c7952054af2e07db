package engine

import (
	"strings"

	"scriptlang/internal/ir"
	"scriptlang/internal/sandbox"
)

// scopeChainFrom walks the frame stack from idx down to (and including)
// the nearest script-root frame, nearest first. A name declared in an
// outer implicit group stays visible to nested if/while/choice bodies of
// the same script invocation; it disappears once that outer frame pops,
// and it never reaches across a call into the caller's own frames.
func (e *Engine) scopeChainFrom(idx int) []*ir.RuntimeFrame {
	var out []*ir.RuntimeFrame
	for i := idx; i >= 0; i-- {
		out = append(out, e.frames[i])
		if e.frames[i].ScriptRoot {
			break
		}
	}
	return out
}

func (e *Engine) scopeFrames() []*ir.RuntimeFrame {
	return e.scopeChainFrom(len(e.frames) - 1)
}

// lookupVar resolves a variable by name against the active scope chain,
// nearest declaration wins.
func (e *Engine) lookupVar(name string) (ir.Value, bool) {
	for _, f := range e.scopeFrames() {
		if v, ok := f.Scope[name]; ok {
			return v, true
		}
	}
	return ir.Value{}, false
}

func (e *Engine) typeOfInChain(idx int, name string) (ir.ScriptType, bool) {
	for _, f := range e.scopeChainFrom(idx) {
		if t, ok := f.VarTypes[name]; ok {
			return t, true
		}
	}
	return ir.ScriptType{}, false
}

// buildMergedScope flattens the active scope chain into one map for a
// single evaluation, nearest declaration wins. owners records which frame
// actually holds each name so writes observed during evaluation can be
// committed back to the right place afterward.
func (e *Engine) buildMergedScope() (*sandbox.Scope, map[string]*ir.RuntimeFrame) {
	vars := map[string]ir.Value{}
	types := map[string]ir.ScriptType{}
	owners := map[string]*ir.RuntimeFrame{}
	for _, f := range e.scopeFrames() {
		for name, v := range f.Scope {
			if _, seen := vars[name]; seen {
				continue
			}
			vars[name] = v
			types[name] = f.VarTypes[name]
			owners[name] = f
		}
	}
	return sandbox.NewScope(vars, types), owners
}

// commitScope writes a merged scope's current values back into the frames
// that actually own each name, after an evaluation has run.
func commitScope(scope *sandbox.Scope, owners map[string]*ir.RuntimeFrame) {
	for name, owner := range owners {
		if v, ok := scope.Get(name); ok {
			owner.Scope[name] = v
		}
	}
}

func (e *Engine) env(scope *sandbox.Scope) *sandbox.Env {
	steps := 0
	return &sandbox.Env{
		Scope: scope, Globals: e.globals, Funcs: e.funcs, RNG: e.rng,
		Steps: &steps, MaxSteps: e.maxCodeSteps,
	}
}

// setPath applies a dotted field path to an already-resolved base value,
// mutating nested maps/objects in place and returning the (same) root.
func setPath(base ir.Value, segments []string, v ir.Value) ir.Value {
	if len(segments) == 0 {
		return v
	}
	name := segments[0]
	switch base.Type.Kind {
	case ir.KindObject:
		base.Object[name] = setPath(base.Object[name], segments[1:], v)
	case ir.KindMap:
		base.Map[name] = setPath(base.Map[name], segments[1:], v)
	}
	return base
}

// writeVarPathInChain writes through a ref-argument path ("hp" or
// "party.leader.hp") by resolving the root variable against the scope
// chain starting at idx, then applying the remaining segments in place.
func (e *Engine) writeVarPathInChain(idx int, path string, v ir.Value) {
	segs := strings.Split(path, ".")
	name := segs[0]
	for _, f := range e.scopeChainFrom(idx) {
		if base, ok := f.Scope[name]; ok {
			f.Scope[name] = setPath(base, segs[1:], v)
			return
		}
	}
}

func (e *Engine) findFrameIndexByID(id int) (int, bool) {
	for i, f := range e.frames {
		if f.FrameID == id {
			return i, true
		}
	}
	return -1, false
}

func (e *Engine) pushGroupFrame(scriptName, groupID string, completion ir.FrameCompletion) {
	e.frames = append(e.frames, &ir.RuntimeFrame{
		FrameID:    e.newFrameID(),
		ScriptName: scriptName,
		GroupID:    groupID,
		NodeIndex:  0,
		Scope:      map[string]ir.Value{},
		VarTypes:   map[string]ir.ScriptType{},
		Completion: completion,
		ScriptRoot: false,
	})
}

// buildNamedArgScope binds Start()'s host-supplied, name-keyed args
// against a script's declared parameters: unknown keys are
// ENGINE_CALL_ARG_UNKNOWN, a value of the wrong shape is
// ENGINE_TYPE_MISMATCH, and an omitted parameter gets its type's zero
// value.
func (e *Engine) buildNamedArgScope(params []ir.ScriptParam, args map[string]ir.Value) (map[string]ir.Value, map[string]ir.ScriptType, *ir.Error) {
	declared := make(map[string]bool, len(params))
	vars := make(map[string]ir.Value, len(params))
	types := make(map[string]ir.ScriptType, len(params))
	for _, p := range params {
		declared[p.Name] = true
		types[p.Name] = p.Type
		if v, ok := args[p.Name]; ok {
			if !sandbox.Conforms(v, p.Type) {
				return nil, nil, ir.Errf("ENGINE_TYPE_MISMATCH", nil, "argument \""+p.Name+"\" does not match its declared type")
			}
			vars[p.Name] = v
		} else {
			vars[p.Name] = sandbox.ZeroValue(p.Type)
		}
	}
	for name := range args {
		if !declared[name] {
			return nil, nil, ir.Errf("ENGINE_CALL_ARG_UNKNOWN", nil, "unknown argument \""+name+"\"")
		}
	}
	return vars, types, nil
}

// bindCallArgs binds a <call>/<return script=...> node's positional
// arguments against the callee's declared parameters, using the calling
// frame's own scope chain to resolve ref paths and evaluate value
// expressions.
func (e *Engine) bindCallArgs(params []ir.ScriptParam, args []ir.CallArg) (map[string]ir.Value, map[string]ir.ScriptType, map[string]string, *ir.Error) {
	vars := make(map[string]ir.Value, len(params))
	types := make(map[string]ir.ScriptType, len(params))
	refBindings := map[string]string{}

	scope, owners := e.buildMergedScope()
	env := e.env(scope)

	for i, p := range params {
		a := args[i]
		types[p.Name] = p.Type
		if a.IsRef != p.IsRef {
			commitScope(scope, owners)
			return nil, nil, nil, ir.Errf("ENGINE_CALL_REF_MISMATCH", &a.Value.Span, "argument \""+p.Name+"\" ref-ness does not match the declaration")
		}
		if a.IsRef {
			v, ok := e.lookupVar(a.RefPath)
			if !ok {
				commitScope(scope, owners)
				return nil, nil, nil, ir.Errf("ENGINE_VAR_UNDEFINED", &a.Value.Span, "ref argument \""+a.RefPath+"\" is not declared")
			}
			if !sandbox.Conforms(v, p.Type) {
				commitScope(scope, owners)
				return nil, nil, nil, ir.Errf("ENGINE_TYPE_MISMATCH", &a.Value.Span, "ref argument \""+a.RefPath+"\" does not match the declared type")
			}
			vars[p.Name] = v
			refBindings[p.Name] = a.RefPath
			continue
		}
		v, err := sandbox.Eval(a.Value, env)
		if err != nil {
			commitScope(scope, owners)
			return nil, nil, nil, err
		}
		if !sandbox.Conforms(v, p.Type) {
			commitScope(scope, owners)
			return nil, nil, nil, ir.Errf("ENGINE_TYPE_MISMATCH", &a.Value.Span, "argument \""+p.Name+"\" does not match the declared type")
		}
		vars[p.Name] = v
	}
	commitScope(scope, owners)
	return vars, types, refBindings, nil
}
