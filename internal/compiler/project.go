package compiler

import "scriptlang/internal/ir"

// CompilerVersion is embedded in every compiled project and checked against
// a snapshot's compilerVersion on resume.
const CompilerVersion = "scriptlang-compiler-v1"

// CompileProject runs C2 (closure/declaration resolution) followed by C3
// (IR lowering) over every reachable script, producing the full compiled
// project C7 exposes to engines.
func CompileProject(textByPath map[string]string) (*ir.CompiledProject, *ir.Error) {
	resolved, err := ResolveProject(textByPath)
	if err != nil {
		return nil, err
	}

	scripts := make(map[string]*ir.ScriptIR, len(resolved.ScriptPaths))
	for name, p := range resolved.ScriptPaths {
		f := resolved.Files[p]
		vis := resolved.Visibility(p)
		scriptIR, lerr := LowerScript(p, f.doc.Root, vis)
		if lerr != nil {
			return nil, lerr
		}
		scripts[name] = scriptIR
	}

	functions := make(map[string]*ir.FunctionDecl, len(resolved.Functions))
	bodies := make(map[string][]*ir.Expr, len(resolved.Functions))
	for name, f := range resolved.Functions {
		functions[name] = f.Decl
		bodies[name] = f.Body
	}

	return &ir.CompiledProject{
		Scripts:         scripts,
		EntryScript:     "main",
		Types:           resolved.Types,
		Functions:       functions,
		FunctionBodies:  bodies,
		JSONGlobals:     jsonValuesToAny(resolved.JSONGlobalValues()),
		CompilerVersion: CompilerVersion,
	}, nil
}

// jsonValuesToAny is a thin adapter: CompiledProject.JSONGlobals is kept as
// `any` at this layer; internally it is always an ir.Value, which
// engine.New wraps in a read-only sandbox.Globals per engine instance.
func jsonValuesToAny(m map[string]ir.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
