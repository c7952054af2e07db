package sandbox

import "scriptlang/internal/ir"

// HostFunc is a function registered by the host application, reachable from
// <code> and interpolation expressions.
type HostFunc func(args []ir.Value) (ir.Value, error)

// DefsFunc is a compiled <function> body from <defs>/<types>: process-pure,
// sandboxed, with no script-variable access.
type DefsFunc struct {
	Decl *ir.FunctionDecl
	Body []*ir.Expr
}

// Globals is the per-engine immutable table of parsed JSON documents,
// already converted to ir.Value trees by the compiler. Reading a global
// yields a deep copy, so a variable initialized from it never shares its
// storage; writeTarget in eval.go rejects any assignment whose target is
// rooted at a global (ENGINE_GLOBAL_READONLY).
type Globals struct {
	byName map[string]ir.Value
}

func NewGlobals(byName map[string]ir.Value) *Globals {
	return &Globals{byName: byName}
}

func (g *Globals) Lookup(name string) (ir.Value, bool) {
	v, ok := g.byName[name]
	return v, ok
}

// FunctionTable holds defs functions and host functions visible to a given
// evaluation, already validated against name collisions at construction
// time (ENGINE_HOST_FUNCTION_RESERVED / _CONFLICT).
type FunctionTable struct {
	Defs map[string]*DefsFunc
	Host map[string]HostFunc
}

// BuildFunctionTable validates host functions against reserved names
// ("random") and defs function names before wiring them together.
func BuildFunctionTable(defs map[string]*DefsFunc, host map[string]HostFunc) (*FunctionTable, *ir.Error) {
	for name := range host {
		if name == "random" {
			return nil, ir.Errf("ENGINE_HOST_FUNCTION_RESERVED", nil, "host function name \"random\" is reserved")
		}
		if _, ok := defs[name]; ok {
			return nil, ir.Errf("ENGINE_HOST_FUNCTION_CONFLICT", nil, "host function \""+name+"\" collides with a defs function")
		}
	}
	return &FunctionTable{Defs: defs, Host: host}, nil
}

// Scope is one level of variable bindings visible to an evaluation: the
// current frame's declared variables. Unlike JSON globals, scope entries
// are freely writable subject to their declared type.
type Scope struct {
	vars  map[string]ir.Value
	types map[string]ir.ScriptType
}

func NewScope(vars map[string]ir.Value, types map[string]ir.ScriptType) *Scope {
	return &Scope{vars: vars, types: types}
}

func (s *Scope) Get(name string) (ir.Value, bool) {
	v, ok := s.vars[name]
	return v, ok
}

func (s *Scope) TypeOf(name string) (ir.ScriptType, bool) {
	t, ok := s.types[name]
	return t, ok
}

func (s *Scope) Set(name string, v ir.Value) { s.vars[name] = v }

func (s *Scope) Declare(name string, v ir.Value, t ir.ScriptType) {
	s.vars[name] = v
	s.types[name] = t
}
