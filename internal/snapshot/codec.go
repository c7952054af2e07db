// Package snapshot encodes and validates engine snapshots for hosts that
// want to persist a paused run across process restarts. The engine itself
// only checks schema/compiler version on Resume (internal/engine); this
// package owns the full validation pass a resumed snapshot must pass
// (non-empty frame stack, a live top group, a pending boundary that still
// names a real node, well-formed var types) before it is ever handed to
// Resume.
package snapshot

import (
	"encoding/json"
	"strings"

	"scriptlang/internal/engine"
	"scriptlang/internal/ir"
)

// maxRNGState is the largest value the 32-bit generator state can hold.
const maxRNGState = 1<<32 - 1

// Encode marshals a captured snapshot to its wire form.
func Encode(snap *ir.Snapshot) ([]byte, *ir.Error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, ir.Errf("SNAPSHOT_ENCODE_FAILED", nil, err.Error())
	}
	return data, nil
}

// Decode unmarshals a snapshot's wire form without yet validating it
// against a compiled project; call Validate afterward.
func Decode(data []byte) (*ir.Snapshot, *ir.Error) {
	var snap ir.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, ir.Errf("SNAPSHOT_DECODE_FAILED", nil, err.Error())
	}
	return &snap, nil
}

// Validate checks a decoded snapshot against a compiled project before it
// is handed to an engine's Resume. This is the full resume-validation pass;
// engine.Resume itself only re-checks schema/compiler version since it has
// no other reason to distrust a snapshot built by Validate.
func Validate(snap *ir.Snapshot, compiled *ir.CompiledProject) *ir.Error {
	if snap.SchemaVersion != engine.SnapshotSchemaVersion {
		return ir.Errf("SNAPSHOT_SCHEMA_VERSION_MISMATCH", nil, "unsupported snapshot schema version")
	}
	if snap.CompilerVersion != compiled.CompilerVersion {
		return ir.Errf("SNAPSHOT_COMPILER_VERSION_MISMATCH", nil, "snapshot was compiled by a different compiler version")
	}
	if len(snap.RuntimeFrames) == 0 {
		return ir.Errf("SNAPSHOT_EMPTY", nil, "snapshot has no runtime frames")
	}
	if snap.RNGState < 0 || snap.RNGState > maxRNGState {
		return ir.Errf("SNAPSHOT_RNG_STATE", nil, "rngState is out of range for a 32-bit generator")
	}
	if err := validateOnceState(snap.OnceStateByScript); err != nil {
		return err
	}

	top := snap.RuntimeFrames[len(snap.RuntimeFrames)-1]
	script, ok := compiled.Scripts[top.ScriptName]
	if !ok {
		return ir.Errf("SNAPSHOT_GROUP_MISSING", nil, "snapshot references unknown script \""+top.ScriptName+"\"")
	}
	group, ok := script.Groups[top.GroupID]
	if !ok {
		return ir.Errf("SNAPSHOT_GROUP_MISSING", nil, "snapshot references unknown group \""+top.GroupID+"\"")
	}

	if err := validateVarTypes(top); err != nil {
		return err
	}

	if snap.PendingBoundary != nil {
		if err := validatePendingBoundary(snap.PendingBoundary, group, top); err != nil {
			return err
		}
	}

	return nil
}

// validateOnceState checks that every consumed once-marker still has the
// "text:<id>" / "option:<id>" shape the engine's onceSeen lookup expects,
// rather than letting a hand-edited or foreign snapshot carry an
// unrecognizable marker through to Resume silently.
func validateOnceState(byScript map[string][]string) *ir.Error {
	for script, markers := range byScript {
		for _, marker := range markers {
			if !isOnceMarker(marker) {
				return ir.Errf("SNAPSHOT_ONCE_STATE_INVALID", nil, "script \""+script+"\" has malformed once-state marker \""+marker+"\"")
			}
		}
	}
	return nil
}

func isOnceMarker(marker string) bool {
	for _, prefix := range []string{"text:", "option:"} {
		if strings.HasPrefix(marker, prefix) && len(marker) > len(prefix) {
			return true
		}
	}
	return false
}

func validateVarTypes(frame ir.RuntimeFrame) *ir.Error {
	for _, t := range frame.VarTypes {
		if err := validateScriptType(t); err != nil {
			return err
		}
	}
	return nil
}

func validateScriptType(t ir.ScriptType) *ir.Error {
	switch t.Kind {
	case ir.KindNumber, ir.KindString, ir.KindBoolean:
		return nil
	case ir.KindArray, ir.KindMap:
		if t.Element == nil {
			return ir.Errf("SNAPSHOT_TYPE_UNSUPPORTED", nil, "array/map type missing element type")
		}
		return validateScriptType(*t.Element)
	case ir.KindObject:
		if t.Object == "" {
			return ir.Errf("SNAPSHOT_TYPE_UNSUPPORTED", nil, "object type missing a declared name")
		}
		return nil
	default:
		return ir.Errf("SNAPSHOT_TYPE_UNSUPPORTED", nil, "unsupported variable type in snapshot")
	}
}

func validatePendingBoundary(p *ir.PendingBoundary, group *ir.ImplicitGroup, top ir.RuntimeFrame) *ir.Error {
	if top.NodeIndex < 0 || top.NodeIndex >= len(group.Nodes) {
		return ir.Errf("SNAPSHOT_PENDING_MISMATCH", nil, "pending boundary's frame is not positioned on a live node")
	}
	node := group.Nodes[top.NodeIndex]

	switch p.Kind {
	case ir.BoundaryChoice:
		if node.Kind != ir.NodeChoice || node.ID != p.NodeID {
			return ir.Errf("SNAPSHOT_PENDING_MISMATCH", nil, "pending choice no longer names a live choice node")
		}
		for _, item := range p.Items {
			if item.ID == "" {
				return ir.Errf("SNAPSHOT_PENDING_MISMATCH", nil, "pending choice item is missing its option id")
			}
		}
	case ir.BoundaryInput:
		if node.Kind != ir.NodeInput {
			return ir.Errf("SNAPSHOT_PENDING_MISMATCH", nil, "pending input no longer names a live input node")
		}
		if p.TargetVar == "" {
			return ir.Errf("SNAPSHOT_PENDING_MISMATCH", nil, "pending input is missing its target variable")
		}
	default:
		return ir.Errf("SNAPSHOT_PENDING_MISMATCH", nil, "unknown pending boundary kind")
	}
	return nil
}
