package scriptlang

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scriptlang/internal/ir"
)

func TestCompileProjectAndRunToEnd(t *testing.T) {
	src := `<script name="main">
<text>Welcome</text>
<choice text="Pick one">
<option text="Go left"><text>You went left</text></option>
<option text="Go right"><text>You went right</text></option>
</choice>
<text>The end</text>
</script>`
	compiled, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)

	e, err := CreateEngine(compiled, EngineOptions{})
	require.Nil(t, err)
	require.Nil(t, e.Start("main", nil))

	out, nerr := e.Next()
	require.Nil(t, nerr)
	require.Equal(t, OutputText, out.Kind)
	require.Equal(t, "Welcome", out.Text)

	out, nerr = e.Next()
	require.Nil(t, nerr)
	require.Equal(t, OutputChoices, out.Kind)

	require.Nil(t, e.Choose(0))
	out, nerr = e.Next()
	require.Nil(t, nerr)
	require.Equal(t, "You went left", out.Text)

	out, nerr = e.Next()
	require.Nil(t, nerr)
	require.Equal(t, "The end", out.Text)

	out, nerr = e.Next()
	require.Nil(t, nerr)
	require.Equal(t, OutputEnd, out.Kind)
	require.True(t, e.Ended())
}

func TestCreateEngineWiresHostFunctions(t *testing.T) {
	src := `<script name="main">
<var name="greeting" type="string" value="shout(&quot;hi&quot;)"/>
<text>${greeting}</text>
</script>`
	compiled, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)

	shout := func(args []Value) (Value, error) {
		return Value{Type: ir.String(), String: args[0].String + "!"}, nil
	}
	e, err := CreateEngine(compiled, EngineOptions{HostFunctions: map[string]HostFunc{"shout": shout}})
	require.Nil(t, err)
	require.Nil(t, e.Start("main", nil))

	out, nerr := e.Next()
	require.Nil(t, nerr)
	require.Equal(t, "hi!", out.Text)
}

func TestCreateEngineRejectsReservedHostFunctionName(t *testing.T) {
	src := `<script name="main"><text>hi</text></script>`
	compiled, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)

	bogus := func(args []Value) (Value, error) { return Value{}, nil }
	_, cerr := CreateEngine(compiled, EngineOptions{HostFunctions: map[string]HostFunc{"random": bogus}})
	require.NotNil(t, cerr)
	require.Equal(t, "ENGINE_HOST_FUNCTION_RESERVED", cerr.Code)
}

func TestEngineSnapshotResumeRoundtrip(t *testing.T) {
	src := `<script name="main">
<var name="hp" type="number" value="10"/>
<choice text="Pick">
<option text="Heal"><code>hp = hp + 5;</code><text>Healed to ${hp}</text></option>
</choice>
</script>`
	compiled, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)

	e, err := CreateEngine(compiled, EngineOptions{RandomSeed: 7})
	require.Nil(t, err)
	require.Nil(t, e.Start("main", nil))

	_, nerr := e.Next()
	require.Nil(t, nerr)
	out, nerr := e.Next()
	require.Nil(t, nerr)
	require.Equal(t, OutputChoices, out.Kind)

	snap, serr := e.Snapshot()
	require.Nil(t, serr)

	e2, err := CreateEngine(compiled, EngineOptions{})
	require.Nil(t, err)
	require.Nil(t, e2.Resume(snap))

	require.Nil(t, e2.Choose(0))
	out, nerr = e2.Next()
	require.Nil(t, nerr)
	require.Equal(t, "Healed to 15", out.Text)
}
