package sandbox

import (
	"scriptlang/internal/ir"
)

// Env bundles everything one evaluation needs: the current variable scope
// (for a defs-function body, a fresh scope holding only its parameters,
// with no script-variable access),
// deep-frozen JSON globals, the combined defs/host function table, and the
// engine's shared RNG.
//
// Steps/MaxSteps stand in for the host's configured per-node evaluation
// budget. A wall-clock timeout would make replay depend on the clock the
// engine happened to run under, which breaks bit-exact snapshot
// resumption; counting sub-expression evaluations instead keeps the same
// runaway-<code>-guards-itself guarantee fully deterministic. MaxSteps == 0
// means unbounded.
type Env struct {
	Scope   *Scope
	Globals *Globals
	Funcs   *FunctionTable
	RNG     *RNG

	Steps    *int
	MaxSteps int
}

// Eval evaluates a single expression to a value.
func Eval(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	if env.MaxSteps > 0 {
		*env.Steps++
		if *env.Steps > env.MaxSteps {
			return ir.Value{}, ir.Errf("ENGINE_CODE_STEP_BUDGET_EXCEEDED", &e.Span, "code evaluation exceeded its configured step budget")
		}
	}
	switch e.Kind {
	case ir.ExprNumber:
		return ir.Value{Type: ir.Number(), Number: e.Number}, nil
	case ir.ExprString:
		return ir.Value{Type: ir.String(), String: e.String}, nil
	case ir.ExprBoolean:
		return ir.Value{Type: ir.Boolean(), Bool: e.Bool}, nil
	case ir.ExprIdent:
		return evalIdent(e, env)
	case ir.ExprArrayLit:
		return evalArrayLit(e, env)
	case ir.ExprObjectLit:
		return evalObjectLit(e, env)
	case ir.ExprUnary:
		return evalUnary(e, env)
	case ir.ExprBinary:
		return evalBinary(e, env)
	case ir.ExprConditional:
		return evalConditional(e, env)
	case ir.ExprMember:
		return evalMember(e, env)
	case ir.ExprIndex:
		return evalIndex(e, env)
	case ir.ExprCall:
		return evalCall(e, env)
	case ir.ExprAssign:
		return evalAssign(e, env)
	}
	return ir.Value{}, ir.Errf("ENGINE_NODE_UNKNOWN", &e.Span, "unknown expression kind")
}

// EvalStatements runs a <code> body's statement list in order, threading
// variable writes through Eval's assignment path: writes are observed and
// routed through the typed-write path.
func EvalStatements(stmts []*ir.Expr, env *Env) *ir.Error {
	for _, s := range stmts {
		if _, err := Eval(s, env); err != nil {
			return err
		}
	}
	return nil
}

func evalIdent(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	if env.Scope != nil {
		if v, ok := env.Scope.Get(e.Name); ok {
			return v, nil
		}
	}
	if env.Globals != nil {
		if v, ok := env.Globals.Lookup(e.Name); ok {
			return CloneValue(v), nil
		}
	}
	return ir.Value{}, ir.Errf("ENGINE_UNDEFINED_ASSIGN", &e.Span, "undefined identifier \""+e.Name+"\"")
}

func evalArrayLit(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	elems := make([]ir.Value, len(e.Elements))
	var elemType *ir.ScriptType
	for i, el := range e.Elements {
		v, err := Eval(el, env)
		if err != nil {
			return ir.Value{}, err
		}
		elems[i] = v
		if elemType == nil {
			t := v.Type
			elemType = &t
		}
	}
	t := ir.ScriptType{Kind: ir.KindArray}
	if elemType != nil {
		t.Element = elemType
	} else {
		zero := ir.Number()
		t.Element = &zero
	}
	return ir.Value{Type: t, Array: elems}, nil
}

// evalObjectLit evaluates `{key: value, ...}` as a map value. The result is
// always map-typed: no caller converts it with AsObject, so an object
// literal used as the initializer of a <var> of a declared object type does
// not conform to that type.
func evalObjectLit(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	m := make(map[string]ir.Value, len(e.Entries))
	var elemType *ir.ScriptType
	for _, ent := range e.Entries {
		v, err := Eval(ent.Value, env)
		if err != nil {
			return ir.Value{}, err
		}
		m[ent.Key] = v
		if elemType == nil {
			t := v.Type
			elemType = &t
		}
	}
	t := ir.ScriptType{Kind: ir.KindMap}
	if elemType != nil {
		t.Element = elemType
	} else {
		zero := ir.String()
		t.Element = &zero
	}
	return ir.Value{Type: t, Map: m}, nil
}

// AsObject reinterprets a map-shaped literal value as an instance of
// declared object type t, taking each of t's fields from the map and
// filling absent ones with the field type's zero value.
func AsObject(v ir.Value, t ir.ScriptType) ir.Value {
	fields := make(map[string]ir.Value, len(t.Fields))
	for _, f := range t.Fields {
		if fv, ok := v.Map[f.Name]; ok {
			fields[f.Name] = fv
		} else {
			fields[f.Name] = ZeroValue(f.Type)
		}
	}
	return ir.Value{Type: t, Object: fields}
}

func evalUnary(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	v, err := Eval(e.Operand, env)
	if err != nil {
		return ir.Value{}, err
	}
	switch e.Op {
	case "-":
		return ir.Value{Type: ir.Number(), Number: -v.Number}, nil
	case "!":
		return ir.Value{Type: ir.Boolean(), Bool: !v.Bool}, nil
	}
	return ir.Value{}, ir.Errf("ENGINE_NODE_UNKNOWN", &e.Span, "unknown unary operator "+e.Op)
}

func evalBinary(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	l, err := Eval(e.Left, env)
	if err != nil {
		return ir.Value{}, err
	}
	r, err := Eval(e.Right, env)
	if err != nil {
		return ir.Value{}, err
	}
	switch e.Op {
	case "+":
		if l.Type.Kind == ir.KindString || r.Type.Kind == ir.KindString {
			return ir.Value{Type: ir.String(), String: Stringify(l) + Stringify(r)}, nil
		}
		return ir.Value{Type: ir.Number(), Number: l.Number + r.Number}, nil
	case "-":
		return ir.Value{Type: ir.Number(), Number: l.Number - r.Number}, nil
	case "*":
		return ir.Value{Type: ir.Number(), Number: l.Number * r.Number}, nil
	case "/":
		return ir.Value{Type: ir.Number(), Number: l.Number / r.Number}, nil
	case "%":
		li, ri := int64(l.Number), int64(r.Number)
		if ri == 0 {
			return ir.Value{}, ir.Errf("ENGINE_DIV_BY_ZERO", &e.Span, "modulo by zero")
		}
		return ir.Value{Type: ir.Number(), Number: float64(li % ri)}, nil
	case "==":
		return ir.Value{Type: ir.Boolean(), Bool: valuesEqual(l, r)}, nil
	case "!=":
		return ir.Value{Type: ir.Boolean(), Bool: !valuesEqual(l, r)}, nil
	case "<":
		return ir.Value{Type: ir.Boolean(), Bool: l.Number < r.Number}, nil
	case "<=":
		return ir.Value{Type: ir.Boolean(), Bool: l.Number <= r.Number}, nil
	case ">":
		return ir.Value{Type: ir.Boolean(), Bool: l.Number > r.Number}, nil
	case ">=":
		return ir.Value{Type: ir.Boolean(), Bool: l.Number >= r.Number}, nil
	case "&&":
		return ir.Value{Type: ir.Boolean(), Bool: l.Bool && r.Bool}, nil
	case "||":
		return ir.Value{Type: ir.Boolean(), Bool: l.Bool || r.Bool}, nil
	}
	return ir.Value{}, ir.Errf("ENGINE_NODE_UNKNOWN", &e.Span, "unknown binary operator "+e.Op)
}

func valuesEqual(l, r ir.Value) bool {
	if l.Type.Kind != r.Type.Kind {
		return false
	}
	switch l.Type.Kind {
	case ir.KindNumber:
		return l.Number == r.Number
	case ir.KindString:
		return l.String == r.String
	case ir.KindBoolean:
		return l.Bool == r.Bool
	default:
		return Stringify(l) == Stringify(r)
	}
}

func evalConditional(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	c, err := Eval(e.Cond, env)
	if err != nil {
		return ir.Value{}, err
	}
	if c.Type.Kind != ir.KindBoolean {
		return ir.Value{}, ir.Errf("ENGINE_BOOLEAN_EXPECTED", &e.Cond.Span, "conditional expression requires a boolean condition")
	}
	if c.Bool {
		return Eval(e.Then, env)
	}
	return Eval(e.Else, env)
}

func evalMember(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	base, err := Eval(e.Left, env)
	if err != nil {
		return ir.Value{}, err
	}
	switch base.Type.Kind {
	case ir.KindObject:
		if v, ok := base.Object[e.Name]; ok {
			return v, nil
		}
	case ir.KindMap:
		if v, ok := base.Map[e.Name]; ok {
			return v, nil
		}
	}
	return ir.Value{}, ir.Errf("ENGINE_UNDEFINED_ASSIGN", &e.Span, "no field \""+e.Name+"\" on value")
}

func evalIndex(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	base, err := Eval(e.Left, env)
	if err != nil {
		return ir.Value{}, err
	}
	idx, err := Eval(e.Index, env)
	if err != nil {
		return ir.Value{}, err
	}
	switch base.Type.Kind {
	case ir.KindArray:
		i := int(idx.Number)
		if i < 0 || i >= len(base.Array) {
			return ir.Value{}, ir.Errf("ENGINE_INDEX_OUT_OF_RANGE", &e.Span, "array index out of range")
		}
		return base.Array[i], nil
	case ir.KindMap:
		if v, ok := base.Map[idx.String]; ok {
			return v, nil
		}
		return ir.Value{}, ir.Errf("ENGINE_UNDEFINED_ASSIGN", &e.Span, "no map entry \""+idx.String+"\"")
	}
	return ir.Value{}, ir.Errf("ENGINE_NODE_UNKNOWN", &e.Span, "value is not indexable")
}

func evalCall(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	if e.Name == "random" {
		if len(e.Args) != 1 {
			return ir.Value{}, ir.Errf("ENGINE_RANDOM_ARITY", &e.Span, "random() requires exactly one argument")
		}
		n, err := Eval(e.Args[0], env)
		if err != nil {
			return ir.Value{}, err
		}
		if n.Type.Kind != ir.KindNumber || n.Number != float64(int64(n.Number)) {
			return ir.Value{}, ir.Errf("ENGINE_RANDOM_ARG", &e.Args[0].Span, "random(n) requires a finite integer argument")
		}
		result, rerr := env.RNG.Random(uint64(n.Number))
		if rerr != nil {
			rerr.Span = &e.Args[0].Span
			return ir.Value{}, rerr
		}
		return ir.Value{Type: ir.Number(), Number: float64(result)}, nil
	}

	args := make([]ir.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := Eval(a, env)
		if err != nil {
			return ir.Value{}, err
		}
		args[i] = v
	}

	if env.Funcs != nil {
		if def, ok := env.Funcs.Defs[e.Name]; ok {
			return callDefsFunc(def, args, env, e.Span)
		}
		if host, ok := env.Funcs.Host[e.Name]; ok {
			v, err := host(args)
			if err != nil {
				return ir.Value{}, ir.Errf("ENGINE_HOST_FUNCTION_ERROR", &e.Span, err.Error())
			}
			return v, nil
		}
	}
	return ir.Value{}, ir.Errf("ENGINE_UNDEFINED_ASSIGN", &e.Span, "unknown function \""+e.Name+"\"")
}

func callDefsFunc(def *DefsFunc, args []ir.Value, env *Env, span ir.Span) (ir.Value, *ir.Error) {
	if len(args) != len(def.Decl.Params) {
		return ir.Value{}, ir.Errf("ENGINE_CALL_ARG_UNKNOWN", &span, "function \""+def.Decl.Name+"\" called with wrong argument count")
	}
	vars := make(map[string]ir.Value, len(args))
	types := make(map[string]ir.ScriptType, len(args))
	for i, p := range def.Decl.Params {
		if !Conforms(args[i], p.Type) {
			return ir.Value{}, ir.Errf("ENGINE_TYPE_MISMATCH", &span, "argument \""+p.Name+"\" does not match declared type")
		}
		vars[p.Name] = args[i]
		types[p.Name] = p.Type
	}
	inner := &Env{
		Scope:    NewScope(vars, types),
		Globals:  env.Globals,
		Funcs:    env.Funcs,
		RNG:      env.RNG,
		Steps:    env.Steps,
		MaxSteps: env.MaxSteps,
	}
	var result ir.Value
	for i, stmt := range def.Body {
		v, err := Eval(stmt, inner)
		if err != nil {
			return ir.Value{}, err
		}
		if i == len(def.Body)-1 {
			result = v
		}
	}
	if !Conforms(result, def.Decl.Return.Type) {
		return ir.Value{}, ir.Errf("ENGINE_TYPE_MISMATCH", &span, "function \""+def.Decl.Name+"\" return value does not match declared type")
	}
	return result, nil
}

func evalAssign(e *ir.Expr, env *Env) (ir.Value, *ir.Error) {
	v, err := Eval(e.Right, env)
	if err != nil {
		return ir.Value{}, err
	}
	if err := writeTarget(e.Left, v, env); err != nil {
		return ir.Value{}, err
	}
	return v, nil
}

// writeTarget routes an assignment's left-hand side through the typed write
// path so type checks fire, and
// rejects any write reaching into a JSON global.
func writeTarget(target *ir.Expr, v ir.Value, env *Env) *ir.Error {
	switch target.Kind {
	case ir.ExprIdent:
		if env.Globals != nil {
			if _, ok := env.Globals.Lookup(target.Name); ok {
				return ir.Errf("ENGINE_GLOBAL_READONLY", &target.Span, "cannot assign to read-only global \""+target.Name+"\"")
			}
		}
		declared, ok := env.Scope.TypeOf(target.Name)
		if !ok {
			return ir.Errf("ENGINE_UNDEFINED_ASSIGN", &target.Span, "assignment to undeclared variable \""+target.Name+"\"")
		}
		if !Conforms(v, declared) {
			return ir.Errf("ENGINE_TYPE_MISMATCH", &target.Span, "value does not match declared type of \""+target.Name+"\"")
		}
		env.Scope.Set(target.Name, v)
		return nil
	case ir.ExprMember:
		base, err := Eval(target.Left, env)
		if err != nil {
			return err
		}
		if base.Type.Kind != ir.KindObject && base.Type.Kind != ir.KindMap {
			return ir.Errf("ENGINE_TYPE_MISMATCH", &target.Span, "member assignment target is not an object or map")
		}
		if isGlobalExpr(target.Left, env) {
			return ir.Errf("ENGINE_GLOBAL_READONLY", &target.Span, "cannot assign into a read-only global")
		}
		if base.Type.Kind == ir.KindObject {
			base.Object[target.Name] = v
		} else {
			base.Map[target.Name] = v
		}
		return writeTarget(target.Left, base, env)
	case ir.ExprIndex:
		base, err := Eval(target.Left, env)
		if err != nil {
			return err
		}
		idx, err := Eval(target.Index, env)
		if err != nil {
			return err
		}
		if isGlobalExpr(target.Left, env) {
			return ir.Errf("ENGINE_GLOBAL_READONLY", &target.Span, "cannot assign into a read-only global")
		}
		switch base.Type.Kind {
		case ir.KindArray:
			i := int(idx.Number)
			if i < 0 || i >= len(base.Array) {
				return ir.Errf("ENGINE_INDEX_OUT_OF_RANGE", &target.Span, "array index out of range")
			}
			base.Array[i] = v
		case ir.KindMap:
			base.Map[idx.String] = v
		default:
			return ir.Errf("ENGINE_TYPE_MISMATCH", &target.Span, "index assignment target is not an array or map")
		}
		return writeTarget(target.Left, base, env)
	}
	return ir.Errf("ENGINE_NODE_UNKNOWN", &target.Span, "invalid assignment target")
}

// isGlobalExpr walks to the root identifier of a member/index chain and
// reports whether it names a JSON global.
func isGlobalExpr(e *ir.Expr, env *Env) bool {
	for {
		switch e.Kind {
		case ir.ExprIdent:
			if env.Globals == nil {
				return false
			}
			_, ok := env.Globals.Lookup(e.Name)
			return ok
		case ir.ExprMember, ir.ExprIndex:
			e = e.Left
		default:
			return false
		}
	}
}
