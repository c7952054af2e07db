package engine

import (
	"strings"

	"scriptlang/internal/ir"
	"scriptlang/internal/sandbox"
)

func (e *Engine) execNode(top *ir.RuntimeFrame, node *ir.Node) (*Output, *ir.Error) {
	switch node.Kind {
	case ir.NodeVar:
		return nil, e.execVar(top, node)
	case ir.NodeText:
		return e.execText(top, node)
	case ir.NodeCode:
		return nil, e.execCode(top, node)
	case ir.NodeIf:
		return nil, e.execIf(top, node)
	case ir.NodeWhile:
		return nil, e.execWhile(top, node)
	case ir.NodeChoice:
		return e.execChoice(top, node)
	case ir.NodeInput:
		return e.execInput(top, node)
	case ir.NodeCall:
		return nil, e.execCall(top, node)
	case ir.NodeReturn:
		return nil, e.execReturn(node)
	case ir.NodeBreak:
		return nil, e.execBreak(node)
	case ir.NodeContinue:
		return nil, e.execContinue(node)
	}
	return nil, ir.Errf("ENGINE_NODE_UNKNOWN", &node.Span, "unknown node kind")
}

func (e *Engine) execVar(top *ir.RuntimeFrame, node *ir.Node) *ir.Error {
	if _, ok := top.Scope[node.Decl.Name]; ok {
		return ir.Errf("ENGINE_VAR_DUPLICATE", &node.Span, "variable \""+node.Decl.Name+"\" is already declared in this block")
	}
	v := sandbox.ZeroValue(node.Decl.Type)
	if node.Decl.InitialValue != nil {
		scope, owners := e.buildMergedScope()
		val, err := sandbox.Eval(node.Decl.InitialValue, e.env(scope))
		commitScope(scope, owners)
		if err != nil {
			return err
		}
		v = val
	}
	if !sandbox.Conforms(v, node.Decl.Type) {
		return ir.Errf("ENGINE_TYPE_MISMATCH", &node.Span, "initializer for \""+node.Decl.Name+"\" does not match its declared type")
	}
	top.Scope[node.Decl.Name] = v
	top.VarTypes[node.Decl.Name] = node.Decl.Type
	top.NodeIndex++
	return nil
}

func (e *Engine) execText(top *ir.RuntimeFrame, node *ir.Node) (*Output, *ir.Error) {
	if node.Once {
		key := "text:" + node.ID
		if e.onceSeen(top.ScriptName, key) {
			top.NodeIndex++
			return nil, nil
		}
		e.markOnce(top.ScriptName, key)
	}
	text, err := e.renderInterp(node.Text)
	if err != nil {
		return nil, err
	}
	top.NodeIndex++
	return &Output{Kind: OutputText, Text: text}, nil
}

func (e *Engine) execCode(top *ir.RuntimeFrame, node *ir.Node) *ir.Error {
	scope, owners := e.buildMergedScope()
	err := sandbox.EvalStatements(node.Stmts, e.env(scope))
	commitScope(scope, owners)
	if err != nil {
		return err
	}
	top.NodeIndex++
	return nil
}

func (e *Engine) execIf(top *ir.RuntimeFrame, node *ir.Node) *ir.Error {
	scope, owners := e.buildMergedScope()
	cond, err := sandbox.Eval(node.When, e.env(scope))
	commitScope(scope, owners)
	if err != nil {
		return err
	}
	if cond.Type.Kind != ir.KindBoolean {
		return ir.Errf("ENGINE_BOOLEAN_EXPECTED", &node.When.Span, "if condition must evaluate to a boolean")
	}
	groupID := node.ElseGroupID
	if cond.Bool {
		groupID = node.ThenGroupID
	}
	e.pushGroupFrame(top.ScriptName, groupID, ir.CompletionResumeAfterChild)
	return nil
}

func (e *Engine) execWhile(top *ir.RuntimeFrame, node *ir.Node) *ir.Error {
	scope, owners := e.buildMergedScope()
	cond, err := sandbox.Eval(node.When, e.env(scope))
	commitScope(scope, owners)
	if err != nil {
		return err
	}
	if cond.Type.Kind != ir.KindBoolean {
		return ir.Errf("ENGINE_BOOLEAN_EXPECTED", &node.When.Span, "while condition must evaluate to a boolean")
	}
	if !cond.Bool {
		top.NodeIndex++
		return nil
	}
	e.pushGroupFrame(top.ScriptName, node.BodyGroupID, ir.CompletionWhileBody)
	return nil
}

func (e *Engine) execChoice(top *ir.RuntimeFrame, node *ir.Node) (*Output, *ir.Error) {
	scope, owners := e.buildMergedScope()
	env := e.env(scope)

	type shown struct {
		opt  *ir.Option
		text string
	}
	var normal, fallover []shown

	for i := range node.Options {
		opt := &node.Options[i]
		if opt.Once && e.onceSeen(top.ScriptName, "option:"+opt.ID) {
			continue
		}
		if opt.When != nil {
			cond, err := sandbox.Eval(opt.When, env)
			if err != nil {
				commitScope(scope, owners)
				return nil, err
			}
			if cond.Type.Kind != ir.KindBoolean {
				commitScope(scope, owners)
				return nil, ir.Errf("ENGINE_BOOLEAN_EXPECTED", &opt.When.Span, "option condition must evaluate to a boolean")
			}
			if !cond.Bool {
				continue
			}
		}
		text, err := renderInterpolated(opt.Text, env)
		if err != nil {
			commitScope(scope, owners)
			return nil, err
		}
		s := shown{opt: opt, text: text}
		if opt.FallOver {
			fallover = append(fallover, s)
		} else {
			normal = append(normal, s)
		}
	}

	chosen := normal
	if len(chosen) == 0 {
		chosen = fallover
	}
	if len(chosen) == 0 {
		commitScope(scope, owners)
		top.NodeIndex++
		return nil, nil
	}

	promptText, err := renderInterpolated(node.PromptText, env)
	if err != nil {
		commitScope(scope, owners)
		return nil, err
	}
	commitScope(scope, owners)

	items := make([]ir.ChoiceItem, len(chosen))
	for i, c := range chosen {
		items[i] = ir.ChoiceItem{Index: i, ID: c.opt.ID, Text: c.text}
	}
	e.pending = &ir.PendingBoundary{
		Kind:       ir.BoundaryChoice,
		NodeID:     node.ID,
		Items:      items,
		PromptText: promptText,
		HasPrompt:  node.PromptText != nil,
	}
	return &Output{Kind: OutputChoices, Items: items, PromptText: promptText, HasPrompt: node.PromptText != nil}, nil
}

func (e *Engine) execInput(top *ir.RuntimeFrame, node *ir.Node) (*Output, *ir.Error) {
	scope, owners := e.buildMergedScope()
	env := e.env(scope)

	promptText, err := renderInterpolated(node.PromptText, env)
	if err != nil {
		commitScope(scope, owners)
		return nil, err
	}
	v, ok := e.lookupVar(node.TargetVar)
	commitScope(scope, owners)
	if !ok {
		return nil, ir.Errf("ENGINE_VAR_UNDEFINED", &node.Span, "input target \""+node.TargetVar+"\" is not declared")
	}

	e.pending = &ir.PendingBoundary{
		Kind:        ir.BoundaryInput,
		TargetVar:   node.TargetVar,
		PromptText:  promptText,
		HasPrompt:   node.PromptText != nil,
		DefaultText: sandbox.Stringify(v),
	}
	return &Output{Kind: OutputInput, PromptText: promptText, HasPrompt: node.PromptText != nil, DefaultText: sandbox.Stringify(v)}, nil
}

func (e *Engine) execCall(top *ir.RuntimeFrame, node *ir.Node) *ir.Error {
	target, ok := e.project.Scripts[node.TargetScript]
	if !ok {
		return ir.Errf("ENGINE_CALL_TARGET_UNKNOWN", &node.Span, "unknown script \""+node.TargetScript+"\"")
	}
	if len(node.Args) != len(target.Params) {
		return ir.Errf("ENGINE_CALL_ARG_UNKNOWN", &node.Span, "call to \""+node.TargetScript+"\" has the wrong argument count")
	}

	hasRef := false
	for _, a := range node.Args {
		if a.IsRef {
			hasRef = true
			break
		}
	}

	callerGroup := e.project.Scripts[top.ScriptName].Groups[top.GroupID]
	isTail := top.ScriptRoot && top.NodeIndex == len(callerGroup.Nodes)-1

	if isTail && hasRef {
		return ir.Errf("ENGINE_TAIL_REF_UNSUPPORTED", &node.Span, "a tail call cannot bind ref arguments")
	}

	vars, types, refBindings, err := e.bindCallArgs(target.Params, node.Args)
	if err != nil {
		return err
	}

	if isTail {
		rc := e.flushAndClearRefBindings(top)
		e.frames = e.frames[:len(e.frames)-1]
		e.frames = append(e.frames, &ir.RuntimeFrame{
			FrameID: e.newFrameID(), ScriptName: node.TargetScript, GroupID: target.RootGroupID,
			NodeIndex: 0, Scope: vars, VarTypes: types, Completion: ir.CompletionNone, ScriptRoot: true,
			ReturnContinuation: rc,
		})
		return nil
	}

	rc := &ir.ReturnContinuation{ResumeFrameID: top.FrameID, NextNodeIndex: top.NodeIndex + 1, RefBindings: refBindings}
	e.frames = append(e.frames, &ir.RuntimeFrame{
		FrameID: e.newFrameID(), ScriptName: node.TargetScript, GroupID: target.RootGroupID,
		NodeIndex: 0, Scope: vars, VarTypes: types, Completion: ir.CompletionNone, ScriptRoot: true,
		ReturnContinuation: rc,
	})
	return nil
}

func (e *Engine) execReturn(node *ir.Node) *ir.Error {
	rootIdx := -1
	for i := len(e.frames) - 1; i >= 0; i-- {
		if e.frames[i].ScriptRoot {
			rootIdx = i
			break
		}
	}
	if rootIdx == -1 {
		return ir.Errf("ENGINE_NODE_UNKNOWN", &node.Span, "return outside any script root frame")
	}
	return e.performReturn(rootIdx, node.TargetScript, node.Args, &node.Span)
}

// performReturn implements both the plain <return/> (pop and resume the
// caller) and the tail-transfer <return script="X"/> (flush ref bindings
// to the caller, then replace the popped root frame with a fresh one for
// X that still targets the original caller). A missing resume frame in
// either case quietly ends the run: X still executes to its own
// completion, it just has nowhere to resume afterward.
func (e *Engine) performReturn(rootIdx int, targetScript string, args []ir.CallArg, span *ir.Span) *ir.Error {
	root := e.frames[rootIdx]
	rc := root.ReturnContinuation

	if targetScript == "" {
		e.frames = e.frames[:rootIdx]
		if rc == nil {
			if len(e.frames) == 0 {
				e.ended = true
			}
			return nil
		}
		callerIdx, ok := e.findFrameIndexByID(rc.ResumeFrameID)
		if !ok {
			if len(e.frames) == 0 {
				e.ended = true
			}
			return nil
		}
		for calleeName, callerPath := range rc.RefBindings {
			e.writeVarPathInChain(callerIdx, callerPath, root.Scope[calleeName])
		}
		e.frames[callerIdx].NodeIndex = rc.NextNodeIndex
		return nil
	}

	target, ok := e.project.Scripts[targetScript]
	if !ok {
		return ir.Errf("ENGINE_CALL_TARGET_UNKNOWN", span, "unknown script \""+targetScript+"\"")
	}
	flushed := e.flushAndClearRefBindings(root)
	vars, types, _, err := e.bindCallArgs(target.Params, args)
	if err != nil {
		return err
	}
	e.frames = e.frames[:rootIdx]
	e.frames = append(e.frames, &ir.RuntimeFrame{
		FrameID: e.newFrameID(), ScriptName: targetScript, GroupID: target.RootGroupID,
		NodeIndex: 0, Scope: vars, VarTypes: types, Completion: ir.CompletionNone, ScriptRoot: true,
		ReturnContinuation: flushed,
	})
	return nil
}

// flushAndClearRefBindings applies a script-root frame's pending ref
// writebacks to its caller right before that frame's identity is
// discarded (a tail call replacing it, or a tail transfer), then returns
// a continuation with the bindings cleared so a later frame occupying the
// same call slot can't accidentally re-apply bindings that name params it
// doesn't have.
func (e *Engine) flushAndClearRefBindings(root *ir.RuntimeFrame) *ir.ReturnContinuation {
	rc := root.ReturnContinuation
	if rc == nil {
		return nil
	}
	if callerIdx, ok := e.findFrameIndexByID(rc.ResumeFrameID); ok {
		for calleeName, callerPath := range rc.RefBindings {
			e.writeVarPathInChain(callerIdx, callerPath, root.Scope[calleeName])
		}
	}
	return &ir.ReturnContinuation{ResumeFrameID: rc.ResumeFrameID, NextNodeIndex: rc.NextNodeIndex}
}

func (e *Engine) execBreak(node *ir.Node) *ir.Error {
	idx := e.nearestWhileBody()
	if idx == -1 {
		return ir.Errf("ENGINE_WHILE_CONTROL_TARGET_MISSING", &node.Span, "break outside a while loop")
	}
	e.frames = e.frames[:idx]
	e.frames[len(e.frames)-1].NodeIndex++
	return nil
}

func (e *Engine) execContinue(node *ir.Node) *ir.Error {
	if node.ContinueTarget == "choice" {
		idx := e.nearestChoiceBody()
		if idx == -1 {
			return ir.Errf("ENGINE_CHOICE_CONTROL_TARGET_MISSING", &node.Span, "continue target=\"choice\" outside a choice option")
		}
		e.frames = e.frames[:idx]
		return nil
	}
	idx := e.nearestWhileBody()
	if idx == -1 {
		return ir.Errf("ENGINE_WHILE_CONTROL_TARGET_MISSING", &node.Span, "continue outside a while loop")
	}
	e.frames = e.frames[:idx]
	return nil
}

// nearestWhileBody and nearestChoiceBody search the stack top-down but
// never cross into a caller's own frames: a break/continue only ever
// targets a loop or choice belonging to the currently executing script.
func (e *Engine) nearestWhileBody() int {
	for i := len(e.frames) - 1; i >= 0; i-- {
		if e.frames[i].Completion == ir.CompletionWhileBody {
			return i
		}
		if e.frames[i].ScriptRoot {
			return -1
		}
	}
	return -1
}

func (e *Engine) nearestChoiceBody() int {
	for i := len(e.frames) - 1; i >= 0; i-- {
		if e.frames[i].Completion == ir.CompletionChoiceBody {
			return i
		}
		if e.frames[i].ScriptRoot {
			return -1
		}
	}
	return -1
}

// completeFrame runs when the top frame has no more nodes: a while body
// loops back to re-check its guard, an if/else or choice-option body
// resumes its parent past the node that pushed it, and a script root
// frame falls through to an implicit return.
func (e *Engine) completeFrame(top *ir.RuntimeFrame) *ir.Error {
	switch top.Completion {
	case ir.CompletionWhileBody:
		e.frames = e.frames[:len(e.frames)-1]
		return nil
	case ir.CompletionResumeAfterChild, ir.CompletionChoiceBody:
		e.frames = e.frames[:len(e.frames)-1]
		e.frames[len(e.frames)-1].NodeIndex++
		return nil
	default:
		return e.performReturn(len(e.frames)-1, "", nil, nil)
	}
}

func (e *Engine) renderInterp(t *ir.Interpolated) (string, *ir.Error) {
	if t == nil || t.IsStatic() {
		if t == nil {
			return "", nil
		}
		return t.Static(), nil
	}
	scope, owners := e.buildMergedScope()
	text, err := renderInterpolated(t, e.env(scope))
	commitScope(scope, owners)
	return text, err
}

func renderInterpolated(t *ir.Interpolated, env *sandbox.Env) (string, *ir.Error) {
	if t == nil {
		return "", nil
	}
	if t.IsStatic() {
		return t.Static(), nil
	}
	var b strings.Builder
	for _, seg := range t.Segments {
		b.WriteString(seg.Literal)
		if seg.Expr != nil {
			v, err := sandbox.Eval(seg.Expr, env)
			if err != nil {
				return "", err
			}
			b.WriteString(sandbox.Stringify(v))
		}
	}
	return b.String(), nil
}
