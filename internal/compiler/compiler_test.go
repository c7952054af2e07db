package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scriptlang/internal/ir"
)

func TestCompileProjectScenarioOne(t *testing.T) {
	src := `<script name="main">
<var name="hp" type="number" value="10"/>
<text>HP ${hp}</text>
<choice text="Pick">
<option text="Heal"><code>hp = hp + 5;</code></option>
</choice>
<text>After ${hp}</text>
</script>`

	res, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)
	require.Equal(t, "main", res.EntryScript)

	main, ok := res.Scripts["main"]
	require.True(t, ok)
	root := main.Groups[main.RootGroupID]
	require.Len(t, root.Nodes, 4)
	require.Equal(t, ir.NodeVar, root.Nodes[0].Kind)
	require.Equal(t, ir.NodeText, root.Nodes[1].Kind)
	require.Equal(t, ir.NodeChoice, root.Nodes[2].Kind)
	require.Equal(t, ir.NodeText, root.Nodes[3].Kind)

	choice := root.Nodes[2]
	require.Len(t, choice.Options, 1)
	optGroup := main.Groups[choice.Options[0].GroupID]
	require.Len(t, optGroup.Nodes, 1)
	require.Equal(t, ir.NodeCode, optGroup.Nodes[0].Kind)
}

func TestCompileProjectRequiresMain(t *testing.T) {
	src := `<script name="other"><text>hi</text></script>`
	_, err := CompileProject(map[string]string{"other.script.xml": src})
	require.NotNil(t, err)
	require.Equal(t, "XML_INCLUDE_NO_MAIN", err.Code)
}

func TestCompileProjectDetectsIncludeCycle(t *testing.T) {
	a := `<!-- include: b.script.xml -->
<script name="main"><call script="b"/></script>`
	b := `<!-- include: a.script.xml -->
<script name="b"><return/></script>`
	_, err := CompileProject(map[string]string{"a.script.xml": a, "b.script.xml": b})
	require.NotNil(t, err)
	require.Equal(t, "XML_INCLUDE_CYCLE", err.Code)
}

func TestCompileProjectRejectsRemovedNode(t *testing.T) {
	src := `<script name="main"><vars/></script>`
	_, err := CompileProject(map[string]string{"main.script.xml": src})
	require.NotNil(t, err)
	require.Equal(t, "XML_REMOVED_NODE", err.Code)
}

func TestCompileProjectStableIDsAcrossRecompiles(t *testing.T) {
	src := `<script name="main"><text>hi</text></script>`
	r1, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)
	r2, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)
	require.Equal(t, r1.Scripts["main"].RootGroupID, r2.Scripts["main"].RootGroupID)
	n1 := r1.Scripts["main"].Groups[r1.Scripts["main"].RootGroupID].Nodes[0]
	n2 := r2.Scripts["main"].Groups[r2.Scripts["main"].RootGroupID].Nodes[0]
	require.Equal(t, n1.ID, n2.ID)
}

func TestCompileProjectLoopSugarExpansion(t *testing.T) {
	src := `<script name="main"><loop times="3"><text>tick</text></loop></script>`
	res, err := CompileProject(map[string]string{"main.script.xml": src})
	require.Nil(t, err)
	root := res.Scripts["main"]
	group := root.Groups[root.RootGroupID]
	require.Len(t, group.Nodes, 2)
	require.Equal(t, ir.NodeVar, group.Nodes[0].Kind)
	require.Equal(t, ir.NodeWhile, group.Nodes[1].Kind)
}

func TestCompileProjectRejectsTypeRecursion(t *testing.T) {
	defs := `<defs>
<type name="A"><field name="b" type="B"/></type>
<type name="B"><field name="a" type="A"/></type>
</defs>`
	main := `<!-- include: decls.defs.xml -->
<script name="main"><text>hi</text></script>`
	_, err := CompileProject(map[string]string{"main.script.xml": main, "decls.defs.xml": defs})
	require.NotNil(t, err)
	require.Equal(t, "TYPE_RECURSIVE", err.Code)
}

func TestCompileProjectRefCallArgsCompile(t *testing.T) {
	main := `<script name="main"><var name="hp" type="number" value="1"/><call script="buff" args="3,ref:hp"/></script>`
	res, err := CompileProject(map[string]string{"main.script.xml": main})
	require.Nil(t, err)
	root := res.Scripts["main"]
	callNode := root.Groups[root.RootGroupID].Nodes[1]
	require.Equal(t, ir.NodeCall, callNode.Kind)
	require.Len(t, callNode.Args, 2)
	require.True(t, callNode.Args[1].IsRef)
	require.Equal(t, "hp", callNode.Args[1].RefPath)
}

func TestParseCallArgsRefPath(t *testing.T) {
	args, err := parseCallArgs("3, ref:hp", "<test>", false)
	require.Nil(t, err)
	require.Len(t, args, 2)
	require.False(t, args[0].IsRef)
	require.True(t, args[1].IsRef)
	require.Equal(t, "hp", args[1].RefPath)
}

func TestParseCallArgsRejectsRefInReturn(t *testing.T) {
	_, err := parseCallArgs("ref:hp", "<test>", true)
	require.NotNil(t, err)
	require.Equal(t, "XML_RETURN_REF_UNSUPPORTED", err.Code)
}
