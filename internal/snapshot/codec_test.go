package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scriptlang/internal/compiler"
	"scriptlang/internal/engine"
	"scriptlang/internal/ir"
)

func mustCompile(t *testing.T, src string) *ir.CompiledProject {
	t.Helper()
	proj, err := compiler.CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)
	return proj
}

func snapshotAtChoice(t *testing.T, proj *ir.CompiledProject) *ir.Snapshot {
	t.Helper()
	e, err := engine.New(proj, nil, 1, 0)
	require.Nil(t, err)
	require.Nil(t, e.Start("main", nil))
	_, nerr := e.Next()
	require.Nil(t, nerr)
	snap, serr := e.Snapshot()
	require.Nil(t, serr)
	return snap
}

const choiceSrc = `<script name="main">
<choice text="Pick">
<option text="Left"><text>Went left</text></option>
</choice>
</script>`

func TestSnapshotEncodeDecodeRoundtrip(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)

	data, err := Encode(snap)
	require.Nil(t, err)

	decoded, err := Decode(data)
	require.Nil(t, err)
	require.Equal(t, snap.SchemaVersion, decoded.SchemaVersion)
	require.Equal(t, snap.CompilerVersion, decoded.CompilerVersion)
	require.Equal(t, snap.RuntimeFrames, decoded.RuntimeFrames)
	require.Equal(t, snap.PendingBoundary, decoded.PendingBoundary)
}

func TestSnapshotValidateAcceptsHealthySnapshot(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	require.Nil(t, Validate(snap, proj))
}

func TestSnapshotValidateRejectsSchemaVersionMismatch(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.SchemaVersion = 999
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_SCHEMA_VERSION_MISMATCH", err.Code)
}

func TestSnapshotValidateRejectsCompilerVersionMismatch(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.CompilerVersion = "stale-version"
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_COMPILER_VERSION_MISMATCH", err.Code)
}

func TestSnapshotValidateRejectsEmptyFrameStack(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.RuntimeFrames = nil
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_EMPTY", err.Code)
}

func TestSnapshotValidateRejectsUnknownGroup(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.RuntimeFrames[len(snap.RuntimeFrames)-1].GroupID = "no-such-group"
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_GROUP_MISSING", err.Code)
}

func TestSnapshotValidateRejectsStalePendingChoiceID(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.PendingBoundary.NodeID = "not-the-real-node-id"
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_PENDING_MISMATCH", err.Code)
}

func TestSnapshotValidateRejectsOutOfRangeRNGState(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.RNGState = -1
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_RNG_STATE", err.Code)
}

func TestSnapshotValidateRejectsMalformedOnceStateMarker(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	snap.OnceStateByScript = map[string][]string{"main": {"not-a-valid-marker"}}
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_ONCE_STATE_INVALID", err.Code)
}

func TestSnapshotValidateRejectsUnsupportedVarType(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)
	top := &snap.RuntimeFrames[len(snap.RuntimeFrames)-1]
	if top.VarTypes == nil {
		top.VarTypes = map[string]ir.ScriptType{}
	}
	top.VarTypes["bogus"] = ir.ScriptType{Kind: ir.TypeKind(99)}
	err := Validate(snap, proj)
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_TYPE_UNSUPPORTED", err.Code)
}
