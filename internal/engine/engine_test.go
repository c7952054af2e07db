package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scriptlang/internal/compiler"
	"scriptlang/internal/ir"
)

func mustCompile(t *testing.T, files map[string]string) *ir.CompiledProject {
	t.Helper()
	proj, err := compiler.CompileProject(files)
	require.Nil(t, err)
	return proj
}

func mustEngine(t *testing.T, proj *ir.CompiledProject) *Engine {
	t.Helper()
	e, err := New(proj, nil, 1, 0)
	require.Nil(t, err)
	return e
}

func TestEngineTextThenChoiceThenText(t *testing.T) {
	src := `<script name="main">
<text>Welcome</text>
<choice text="Pick one">
<option text="Go left"><text>You went left</text></option>
<option text="Go right"><text>You went right</text></option>
</choice>
<text>The end</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputText, out.Kind)
	require.Equal(t, "Welcome", out.Text)

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputChoices, out.Kind)
	require.Len(t, out.Items, 2)
	require.Equal(t, "Go left", out.Items[0].Text)

	require.Nil(t, e.Choose(1))

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputText, out.Kind)
	require.Equal(t, "You went right", out.Text)

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputText, out.Kind)
	require.Equal(t, "The end", out.Text)

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputEnd, out.Kind)
}

func TestEngineDeterministicRandomFixture(t *testing.T) {
	src := `<script name="main">
<var name="n" type="number" value="random(10)"/>
<text>${n}</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e, err := New(proj, nil, 42, 0)
	require.Nil(t, err)
	require.Nil(t, e.Start("main", nil))

	out, nerr := e.Next()
	require.Nil(t, nerr)
	require.Equal(t, "6", out.Text)
}

func TestEngineRefArgWriteback(t *testing.T) {
	src := `<!-- include: heal.script.xml -->
<script name="main">
<var name="hp" type="number" value="10"/>
<call script="heal" args="ref:hp"/>
<text>HP ${hp}</text>
</script>`
	heal := `<script name="heal" args="ref:number:target">
<code>target = target + 5;</code>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src, "heal.script.xml": heal})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, "HP 15", out.Text)
}

func TestEngineTailCallCompactsFrame(t *testing.T) {
	src := `<!-- include: chapter2.script.xml -->
<script name="main">
<text>Before</text>
<call script="chapter2"/>
</script>`
	chapter2 := `<script name="chapter2">
<text>Chapter 2</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src, "chapter2.script.xml": chapter2})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, "Before", out.Text)

	framesBefore := len(e.frames)
	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, "Chapter 2", out.Text)
	require.Equal(t, framesBefore, len(e.frames))

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputEnd, out.Kind)
}

func TestEngineTailCallRejectsRefArg(t *testing.T) {
	src := `<!-- include: chapter2.script.xml -->
<script name="main">
<var name="hp" type="number" value="10"/>
<call script="chapter2" args="ref:hp"/>
</script>`
	chapter2 := `<script name="chapter2" args="ref:number:hp">
<text>Chapter 2, HP ${hp}</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src, "chapter2.script.xml": chapter2})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	_, err := e.Next()
	require.NotNil(t, err)
	require.Equal(t, "ENGINE_TAIL_REF_UNSUPPORTED", err.Code)
}

func TestEngineReturnTransferFlushesRefBindingThenClearsIt(t *testing.T) {
	src := `<!-- include: heal.script.xml -->
<script name="main">
<var name="hp" type="number" value="10"/>
<call script="heal" args="ref:hp"/>
<text>HP after heal ${hp}</text>
</script>`
	heal := `<!-- include: aftermath.script.xml -->
<script name="heal" args="ref:number:hp">
<code>hp = hp + 5;</code>
<return script="aftermath"/>
</script>`
	aftermath := `<script name="aftermath">
<text>Aftermath</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src, "heal.script.xml": heal, "aftermath.script.xml": aftermath})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, "Aftermath", out.Text)

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, "HP after heal 15", out.Text)

	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputEnd, out.Kind)
}

// TestEngineReturnTransferFlushesRefBindingThenClearsIt also guards against
// a stale-rebind regression: without clearing RefBindings on the frame that
// replaces heal's, aftermath's own natural return would try to re-apply
// heal's "hp" binding against aftermath's (nonexistent) "hp" variable,
// corrupting main's hp a second time.

func TestEngineOnceTextFallsOverAfterConsumed(t *testing.T) {
	src := `<script name="main">
<var name="i" type="number" value="0"/>
<while when="i &lt; 2">
<text once="true">First visit only</text>
<text>Tick ${i}</text>
<code>i = i + 1;</code>
</while>
<text>Done</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	var texts []string
	for {
		out, err := e.Next()
		require.Nil(t, err)
		if out.Kind == OutputEnd {
			break
		}
		texts = append(texts, out.Text)
	}
	require.Equal(t, []string{"First visit only", "Tick 0", "Tick 1", "Done"}, texts)
}

func TestEngineSnapshotRejectsOffBoundary(t *testing.T) {
	src := `<script name="main"><text>hi</text></script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	_, err := e.Snapshot()
	require.NotNil(t, err)
	require.Equal(t, "SNAPSHOT_NOT_AT_BOUNDARY", err.Code)
}

func TestEngineSnapshotRoundtripMidChoice(t *testing.T) {
	src := `<script name="main">
<var name="hp" type="number" value="10"/>
<choice text="Pick">
<option text="Heal"><code>hp = hp + 5;</code><text>Healed to ${hp}</text></option>
</choice>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	_, err := e.Next()
	require.Nil(t, err)
	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputChoices, out.Kind)

	snap, serr := e.Snapshot()
	require.Nil(t, serr)

	e2 := mustEngine(t, proj)
	require.Nil(t, e2.Resume(snap))

	require.Nil(t, e2.Choose(0))
	out, err = e2.Next()
	require.Nil(t, err)
	require.Equal(t, "Healed to 15", out.Text)
}

func TestEngineChoiceFallsOverWhenAllNormalOptionsHidden(t *testing.T) {
	src := `<script name="main">
<var name="ready" type="boolean" value="false"/>
<choice text="Pick">
<option text="Go" when="ready"><text>Went</text></option>
<option text="Wait" fall_over="true"><text>Waited</text></option>
</choice>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputChoices, out.Kind)
	require.Len(t, out.Items, 1)
	require.Equal(t, "Wait", out.Items[0].Text)

	require.Nil(t, e.Choose(0))
	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, "Waited", out.Text)
}

func TestEngineChoiceHidesFallOverWhenNormalOptionVisible(t *testing.T) {
	src := `<script name="main">
<var name="ready" type="boolean" value="true"/>
<choice text="Pick">
<option text="Go" when="ready"><text>Went</text></option>
<option text="Wait" fall_over="true"><text>Waited</text></option>
</choice>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputChoices, out.Kind)
	require.Len(t, out.Items, 1)
	require.Equal(t, "Go", out.Items[0].Text)

	require.Nil(t, e.Choose(0))
	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, "Went", out.Text)
}

func TestEngineBreakExitsWhileLoop(t *testing.T) {
	src := `<script name="main">
<var name="i" type="number" value="0"/>
<while when="i &lt; 10">
<if when="i == 3"><break/></if>
<code>i = i + 1;</code>
</while>
<text>i=${i}</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, "i=3", out.Text)
}

func TestEngineContinueChoiceReRendersBoundary(t *testing.T) {
	src := `<script name="main">
<var name="tries" type="number" value="0"/>
<choice text="Pick">
<option text="Retry"><code>tries = tries + 1;</code><if when="tries &lt; 2"><continue target="choice"/></if></option>
</choice>
<text>tries=${tries}</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputChoices, out.Kind)

	require.Nil(t, e.Choose(0))
	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputChoices, out.Kind)

	require.Nil(t, e.Choose(0))
	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, "tries=2", out.Text)
}

func TestEngineInputAssignsTypedVariable(t *testing.T) {
	src := `<script name="main">
<var name="name" type="string" value="&quot;stranger&quot;"/>
<input var="name" text="Who are you?"/>
<text>Hello ${name}</text>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	out, err := e.Next()
	require.Nil(t, err)
	require.Equal(t, OutputInput, out.Kind)
	require.Equal(t, "stranger", out.DefaultText)

	require.Nil(t, e.SubmitInput("Mara"))
	out, err = e.Next()
	require.Nil(t, err)
	require.Equal(t, "Hello Mara", out.Text)
}

func TestEngineStartRejectsUnknownArg(t *testing.T) {
	src := `<script name="main" args="number:hp"><text>hi</text></script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	err := e.Start("main", map[string]ir.Value{"nope": {Type: ir.Number(), Number: 1}})
	require.NotNil(t, err)
	require.Equal(t, "ENGINE_CALL_ARG_UNKNOWN", err.Code)
}

func TestEngineGuardExceededOnInfiniteLoop(t *testing.T) {
	src := `<script name="main">
<while when="true"><code>1 + 1;</code></while>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e := mustEngine(t, proj)
	require.Nil(t, e.Start("main", nil))

	_, err := e.Next()
	require.NotNil(t, err)
	require.Equal(t, "ENGINE_GUARD_EXCEEDED", err.Code)
}

func TestEngineCodeStepBudgetExceeded(t *testing.T) {
	src := `<script name="main">
<code>1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1;</code>
</script>`
	proj := mustCompile(t, map[string]string{"main.script.xml": src})
	e, err := New(proj, nil, 1, 5)
	require.Nil(t, err)
	require.Nil(t, e.Start("main", nil))

	_, nerr := e.Next()
	require.NotNil(t, nerr)
	require.Equal(t, "ENGINE_CODE_STEP_BUDGET_EXCEEDED", nerr.Code)
}
