package ir

// NodeKind tags the executable node union. Mirrors a hand-rolled parser's
// AST-node approach — one enum, one struct, switched on by the engine.
type NodeKind int

const (
	NodeVar NodeKind = iota
	NodeText
	NodeCode
	NodeIf
	NodeWhile
	NodeChoice
	NodeInput
	NodeCall
	NodeReturn
	NodeBreak
	NodeContinue
)

// VarDeclaration is a <var> node's declaration.
type VarDeclaration struct {
	Name         string
	Type         ScriptType
	InitialValue *Expr // nil: use the type's zero default
}

// CallArg is one positional argument of a <call> or <return> node.
type CallArg struct {
	Value *Expr
	IsRef bool
	// RefPath is the variable path written when IsRef is true, populated at
	// compile time from Value when Value is a bare identifier/member chain
	// (index expressions are not accepted as ref paths).
	RefPath string
}

// Option is one <option> of a <choice> node.
type Option struct {
	ID       string
	Text     *Interpolated
	When     *Expr // nil: always visible
	Once     bool
	FallOver bool
	GroupID  string
}

// Node is the tagged union of executable script statements.
type Node struct {
	ID   string
	Kind NodeKind
	Span Span

	// NodeVar
	Decl *VarDeclaration

	// NodeText
	Text *Interpolated
	Once bool

	// NodeCode
	Code string // raw source, for error spans; statements live in Stmts
	Stmts []*Expr

	// NodeIf
	When          *Expr
	ThenGroupID   string
	ElseGroupID   string // "" when no <else>, but compiler always emits an (empty) group

	// NodeWhile
	BodyGroupID string

	// NodeChoice
	PromptText *Interpolated
	Options    []Option

	// NodeInput
	TargetVar string
	// PromptText reused from above for NodeInput too

	// NodeCall / NodeReturn
	TargetScript string
	Args         []CallArg

	// NodeContinue
	ContinueTarget string // "while" | "choice"
}

// ImplicitGroup is an ordered block of nodes: a script body, an if/else
// branch, a while body, or a choice option body.
type ImplicitGroup struct {
	GroupID      string
	ParentGroupID string
	Nodes        []*Node
}

// ScriptIR is the compiled form of one reachable <script>.
type ScriptIR struct {
	ScriptPath string
	ScriptName string
	Params     []ScriptParam
	RootGroupID string
	Groups      map[string]*ImplicitGroup

	VisibleJSONGlobals []string
	VisibleFunctions   map[string]*FunctionDecl
}

// CompiledProject is the full compiler output: every reachable script by
// name, plus shared declarations and globals.
type CompiledProject struct {
	Scripts      map[string]*ScriptIR
	EntryScript  string
	Types        map[string]*ScriptType
	Functions    map[string]*FunctionDecl
	FunctionBodies map[string][]*Expr // parsed statement list per function name
	JSONGlobals  map[string]any // parsed, not yet frozen — sandbox freezes per engine
	CompilerVersion string
}
