package ir

// FrameCompletion tags what happens when a runtime frame runs out of nodes
// (a script root returns, a while body re-checks its guard, an if/else or
// option body resumes its parent), mirroring a CallStack's return-address
// bookkeeping (internal/proxy/scripting/vm/stack.go) but generalized to the
// four completion shapes a frame can need.
type FrameCompletion int

const (
	CompletionNone FrameCompletion = iota
	CompletionWhileBody
	CompletionResumeAfterChild
	// CompletionChoiceBody marks a pushed choice-option body frame
	// distinctly from an if/else body so `<continue target="choice">`
	// can find the right ancestor frame to unwind to.
	CompletionChoiceBody
)

// Value is the dynamic runtime value carried in a RuntimeFrame's scope.
// Kept as a thin tagged box over Go's own types rather than an interface
// hierarchy, so scope maps stay plain and comparable for snapshot tests.
type Value struct {
	Type    ScriptType
	Number  float64
	String  string
	Bool    bool
	Array   []Value
	Map     map[string]Value
	Object  map[string]Value
}

// RuntimeFrame is one entry of the engine's frame stack.
type RuntimeFrame struct {
	FrameID   int
	ScriptName string // which ScriptIR owns GroupID, for group lookup and once-state keys
	GroupID   string
	NodeIndex int

	Scope    map[string]Value
	VarTypes map[string]ScriptType

	Completion FrameCompletion
	ScriptRoot bool

	ReturnContinuation *ReturnContinuation
}

// ReturnContinuation records where a <call> resumes its caller and how to
// write ref arguments back.
type ReturnContinuation struct {
	ResumeFrameID  int
	NextNodeIndex  int
	RefBindings    map[string]string // callee param name -> caller variable path
}

// BoundaryKind tags the PendingBoundary union.
type BoundaryKind int

const (
	BoundaryChoice BoundaryKind = iota
	BoundaryInput
)

// ChoiceItem is one visible, numbered option surfaced at a choice boundary.
type ChoiceItem struct {
	Index int
	ID    string
	Text  string
}

// PendingBoundary is the engine's paused-waiting-for-host-input state:
// either a choice or a text input request.
type PendingBoundary struct {
	Kind BoundaryKind
	// choice
	NodeID     string
	Items      []ChoiceItem
	PromptText string
	HasPrompt  bool
	// input
	TargetVar   string
	DefaultText string
}

// Snapshot is the serializable engine state captured at a boundary, and
// restored to resume execution identically: the full frame stack, the RNG
// state, the pending boundary (if paused mid-choice or mid-input), and
// every once-consumed marker per script.
type Snapshot struct {
	SchemaVersion   int
	CompilerVersion string

	// EngineInstanceID is the opaque id of the engine that captured this
	// snapshot, carried through for host-side diagnostics (which run
	// produced this save). It is not checked on resume: any engine built
	// from a compatible compiler version may resume any snapshot.
	EngineInstanceID string

	RuntimeFrames []RuntimeFrame

	// RNGState is signed and wider than the 32-bit generator state it
	// carries, so a snapshot decoded from a foreign or corrupted payload
	// can hold an out-of-range value long enough for snapshot.Validate to
	// reject it by name instead of the value silently wrapping into some
	// other valid-looking uint32 state.
	RNGState int64

	PendingBoundary *PendingBoundary

	// OnceStateByScript maps a script name to the set of "option:<id>" /
	// "text:<nodeId>" once-markers already consumed for that script.
	OnceStateByScript map[string][]string
}
