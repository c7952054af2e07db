package scriptlang

import "scriptlang/internal/sandbox"

// HostFunc is a function the host registers for scripts to call from
// <code> or interpolation expressions. The name "random" is reserved for
// the built-in deterministic RNG.
type HostFunc = sandbox.HostFunc

// EngineOptions configures CreateEngine.
type EngineOptions struct {
	// HostFunctions are made available to every script's <code> and
	// interpolation expressions, alongside <defs>/<types> functions.
	HostFunctions map[string]HostFunc

	// RandomSeed seeds the engine's deterministic RNG. Zero defaults to 1,
	// matching random()'s documented default seed.
	RandomSeed uint32

	// VMStepBudget bounds a single node's expression evaluation by
	// sub-expression count rather than wall-clock time, so the bound
	// itself can't introduce nondeterminism into snapshot replay. Zero
	// means unbounded.
	VMStepBudget int
}
