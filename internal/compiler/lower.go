package compiler

import (
	"fmt"
	"strings"

	"scriptlang/internal/ir"
	"scriptlang/internal/sandbox"
	"scriptlang/internal/xmlsrc"
)

var executableChildren = map[string]bool{
	"var": true, "text": true, "code": true, "if": true, "while": true,
	"choice": true, "option": true, "input": true, "call": true,
	"return": true, "break": true, "continue": true, "loop": true,
}

var removedLegacyNodes = map[string]bool{
	"vars": true, "step": true, "set": true, "push": true, "remove": true,
}

// builder assigns deterministic, stable IDs within one script,
// invariant G1 / I5): identical source text must yield identical group,
// node, and choice IDs on every recompile.
type builder struct {
	path     string
	groupSeq int
	nodeSeq  int
	choiceSeq int
	loopSeq  int

	groups       map[string]*ir.ImplicitGroup
	declaredVars map[string]bool
}

func newBuilder(path string) *builder {
	return &builder{path: path, groups: map[string]*ir.ImplicitGroup{}, declaredVars: map[string]bool{}}
}

func (b *builder) newGroupID() string {
	b.groupSeq++
	return fmt.Sprintf("%s::g%d", b.path, b.groupSeq)
}

func (b *builder) newNodeID(kind string) string {
	b.nodeSeq++
	return fmt.Sprintf("%s::n%d:%s", b.path, b.nodeSeq, kind)
}

func (b *builder) newChoiceID() string {
	b.choiceSeq++
	return fmt.Sprintf("%s::c%d", b.path, b.choiceSeq)
}

// LowerScript compiles one reachable <script> element into IR.
func LowerScript(scriptPath string, scriptEl *xmlsrc.Element, vis *VisibleSets) (*ir.ScriptIR, *ir.Error) {
	name := scriptEl.Attrs["name"]
	params, err := parseScriptParams(scriptEl.Attrs["args"], scriptPath, scriptEl.Span)
	if err != nil {
		return nil, err
	}

	b := newBuilder(scriptPath)
	rootID, err := b.compileGroup(scriptEl.ChildElements(), "")
	if err != nil {
		return nil, err
	}

	funcNames := make(map[string]*ir.FunctionDecl, len(vis.Functions))
	for n, f := range vis.Functions {
		funcNames[n] = f.Decl
	}

	return &ir.ScriptIR{
		ScriptPath:         scriptPath,
		ScriptName:         name,
		Params:             params,
		RootGroupID:        rootID,
		Groups:             b.groups,
		VisibleJSONGlobals: vis.JSONGlobals,
		VisibleFunctions:   funcNames,
	}, nil
}

func (b *builder) compileGroup(elements []*xmlsrc.Element, parentGroupID string) (string, *ir.Error) {
	groupID := b.newGroupID()
	group := &ir.ImplicitGroup{GroupID: groupID, ParentGroupID: parentGroupID}
	b.groups[groupID] = group

	var nodes []*ir.Node
	for _, el := range elements {
		if el.Name == "else" {
			continue // consumed by the enclosing <if>
		}
		if removedLegacyNodes[el.Name] {
			return "", ir.Errf("XML_REMOVED_NODE", &el.Span, "node <"+el.Name+"> was removed from the language")
		}
		if !executableChildren[el.Name] {
			return "", ir.Errf("XML_UNKNOWN_NODE", &el.Span, "unknown node <"+el.Name+">")
		}
		if el.Name == "loop" {
			loopNodes, err := b.expandLoop(el, groupID)
			if err != nil {
				return "", err
			}
			nodes = append(nodes, loopNodes...)
			continue
		}
		if el.Name == "option" {
			// options are compiled as part of their enclosing <choice>
			continue
		}
		node, err := b.compileNode(el, groupID)
		if err != nil {
			return "", err
		}
		nodes = append(nodes, node)
	}
	group.Nodes = nodes
	return groupID, nil
}

func (b *builder) compileNode(el *xmlsrc.Element, enclosingGroupID string) (*ir.Node, *ir.Error) {
	switch el.Name {
	case "var":
		return b.compileVar(el)
	case "text":
		return b.compileText(el)
	case "code":
		return b.compileCode(el)
	case "if":
		return b.compileIf(el, enclosingGroupID)
	case "while":
		return b.compileWhile(el, enclosingGroupID)
	case "choice":
		return b.compileChoice(el, enclosingGroupID)
	case "input":
		return b.compileInput(el)
	case "call":
		return b.compileCall(el)
	case "return":
		return b.compileReturn(el)
	case "break":
		return &ir.Node{ID: b.newNodeID("break"), Kind: ir.NodeBreak, Span: el.Span}, nil
	case "continue":
		target := el.Attrs["target"]
		if target == "" {
			target = "while"
		}
		if target != "while" && target != "choice" {
			return nil, ir.Errf("XML_CONTINUE_TARGET_INVALID", &el.Span, "continue target must be \"while\" or \"choice\"")
		}
		return &ir.Node{ID: b.newNodeID("continue"), Kind: ir.NodeContinue, Span: el.Span, ContinueTarget: target}, nil
	}
	return nil, ir.Errf("XML_UNKNOWN_NODE", &el.Span, "unknown node <"+el.Name+">")
}

func (b *builder) compileVar(el *xmlsrc.Element) (*ir.Node, *ir.Error) {
	name := el.Attrs["name"]
	typeName := el.Attrs["type"]
	if name == "" || typeName == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<var> requires name and type attributes")
	}
	t, _, terr := parseTypeName(typeName, el)
	if terr != nil {
		return nil, terr
	}
	var initExpr *ir.Expr
	if raw, ok := el.Attrs["value"]; ok && strings.TrimSpace(raw) != "" {
		e, perr := sandbox.Parse(el.Span.Path, raw)
		if perr != nil {
			return nil, perr.(*ir.Error)
		}
		initExpr = e
	}
	b.declaredVars[name] = true
	return &ir.Node{
		ID:   b.newNodeID("var"),
		Kind: ir.NodeVar,
		Span: el.Span,
		Decl: &ir.VarDeclaration{Name: name, Type: t, InitialValue: initExpr},
	}, nil
}

func (b *builder) compileText(el *xmlsrc.Element) (*ir.Node, *ir.Error) {
	if _, hasValue := el.Attrs["value"]; hasValue {
		return nil, ir.Errf("XML_ATTR_NOT_ALLOWED", &el.Span, "<text> does not accept a value= attribute; use inline content")
	}
	content := el.TextContent()
	if strings.TrimSpace(content) == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<text> requires non-empty inline content")
	}
	interp, perr := sandbox.ParseInterpolated(el.Span.Path, content)
	if perr != nil {
		return nil, perr.(*ir.Error)
	}
	once := el.Attrs["once"] == "true"
	return &ir.Node{ID: b.newNodeID("text"), Kind: ir.NodeText, Span: el.Span, Text: interp, Once: once}, nil
}

func (b *builder) compileCode(el *xmlsrc.Element) (*ir.Node, *ir.Error) {
	if _, hasValue := el.Attrs["value"]; hasValue {
		return nil, ir.Errf("XML_ATTR_NOT_ALLOWED", &el.Span, "<code> does not accept a value= attribute; use inline content")
	}
	content := el.TextContent()
	if strings.TrimSpace(content) == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<code> requires non-empty inline content")
	}
	stmts, perr := sandbox.ParseStatements(el.Span.Path, content)
	if perr != nil {
		return nil, perr.(*ir.Error)
	}
	return &ir.Node{ID: b.newNodeID("code"), Kind: ir.NodeCode, Span: el.Span, Code: content, Stmts: stmts}, nil
}

func (b *builder) compileIf(el *xmlsrc.Element, enclosingGroupID string) (*ir.Node, *ir.Error) {
	whenRaw := el.Attrs["when"]
	if whenRaw == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<if> requires a when= attribute")
	}
	when, perr := sandbox.Parse(el.Span.Path, whenRaw)
	if perr != nil {
		return nil, perr.(*ir.Error)
	}

	var thenChildren, elseChildren []*xmlsrc.Element
	var elseEl *xmlsrc.Element
	for _, c := range el.ChildElements() {
		if c.Name == "else" {
			elseEl = c
			continue
		}
		thenChildren = append(thenChildren, c)
	}
	if elseEl != nil {
		elseChildren = elseEl.ChildElements()
	}

	thenID, err := b.compileGroup(thenChildren, enclosingGroupID)
	if err != nil {
		return nil, err
	}
	elseID, err := b.compileGroup(elseChildren, enclosingGroupID)
	if err != nil {
		return nil, err
	}

	return &ir.Node{
		ID: b.newNodeID("if"), Kind: ir.NodeIf, Span: el.Span,
		When: when, ThenGroupID: thenID, ElseGroupID: elseID,
	}, nil
}

func (b *builder) compileWhile(el *xmlsrc.Element, enclosingGroupID string) (*ir.Node, *ir.Error) {
	whenRaw := el.Attrs["when"]
	if whenRaw == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<while> requires a when= attribute")
	}
	when, perr := sandbox.Parse(el.Span.Path, whenRaw)
	if perr != nil {
		return nil, perr.(*ir.Error)
	}
	bodyID, err := b.compileGroup(el.ChildElements(), enclosingGroupID)
	if err != nil {
		return nil, err
	}
	return &ir.Node{ID: b.newNodeID("while"), Kind: ir.NodeWhile, Span: el.Span, When: when, BodyGroupID: bodyID}, nil
}

func (b *builder) compileChoice(el *xmlsrc.Element, enclosingGroupID string) (*ir.Node, *ir.Error) {
	var promptText *ir.Interpolated
	if raw, ok := el.Attrs["text"]; ok {
		p, perr := sandbox.ParseInterpolated(el.Span.Path, raw)
		if perr != nil {
			return nil, perr.(*ir.Error)
		}
		promptText = p
	}

	var options []ir.Option
	for _, optEl := range el.ChildElementsNamed("option") {
		opt, err := b.compileOption(optEl, enclosingGroupID)
		if err != nil {
			return nil, err
		}
		options = append(options, *opt)
	}
	if len(options) == 0 {
		return nil, ir.Errf("XML_CHOICE_NO_OPTIONS", &el.Span, "<choice> requires at least one <option>")
	}

	return &ir.Node{ID: b.newNodeID("choice"), Kind: ir.NodeChoice, Span: el.Span, PromptText: promptText, Options: options}, nil
}

func (b *builder) compileOption(el *xmlsrc.Element, enclosingGroupID string) (*ir.Option, *ir.Error) {
	textRaw := el.Attrs["text"]
	text, perr := sandbox.ParseInterpolated(el.Span.Path, textRaw)
	if perr != nil {
		return nil, perr.(*ir.Error)
	}
	var when *ir.Expr
	if raw, ok := el.Attrs["when"]; ok && raw != "" {
		e, werr := sandbox.Parse(el.Span.Path, raw)
		if werr != nil {
			return nil, werr.(*ir.Error)
		}
		when = e
	}
	bodyID, err := b.compileGroup(el.ChildElements(), enclosingGroupID)
	if err != nil {
		return nil, err
	}
	return &ir.Option{
		ID:       b.newChoiceID(),
		Text:     text,
		When:     when,
		Once:     el.Attrs["once"] == "true",
		FallOver: el.Attrs["fall_over"] == "true",
		GroupID:  bodyID,
	}, nil
}

func (b *builder) compileInput(el *xmlsrc.Element) (*ir.Node, *ir.Error) {
	target := el.Attrs["var"]
	if target == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<input> requires a var= attribute")
	}
	var promptText *ir.Interpolated
	if raw, ok := el.Attrs["text"]; ok {
		p, perr := sandbox.ParseInterpolated(el.Span.Path, raw)
		if perr != nil {
			return nil, perr.(*ir.Error)
		}
		promptText = p
	}
	return &ir.Node{ID: b.newNodeID("input"), Kind: ir.NodeInput, Span: el.Span, TargetVar: target, PromptText: promptText}, nil
}

func (b *builder) compileCall(el *xmlsrc.Element) (*ir.Node, *ir.Error) {
	target := el.Attrs["script"]
	if target == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<call> requires a script= attribute")
	}
	args, err := parseCallArgs(el.Attrs["args"], el.Span.Path, false)
	if err != nil {
		return nil, err
	}
	return &ir.Node{ID: b.newNodeID("call"), Kind: ir.NodeCall, Span: el.Span, TargetScript: target, Args: args}, nil
}

func (b *builder) compileReturn(el *xmlsrc.Element) (*ir.Node, *ir.Error) {
	target := el.Attrs["script"]
	args, err := parseCallArgs(el.Attrs["args"], el.Span.Path, true)
	if err != nil {
		return nil, err
	}
	return &ir.Node{ID: b.newNodeID("return"), Kind: ir.NodeReturn, Span: el.Span, TargetScript: target, Args: args}, nil
}

// expandLoop desugars <loop times="expr">...</loop> into a synthetic
// countdown variable and while node.
func (b *builder) expandLoop(el *xmlsrc.Element, enclosingGroupID string) ([]*ir.Node, *ir.Error) {
	timesRaw := strings.TrimSpace(el.Attrs["times"])
	if timesRaw == "" {
		return nil, ir.Errf("XML_ATTR_MISSING", &el.Span, "<loop> requires a times= attribute")
	}
	if strings.HasPrefix(timesRaw, "${") && strings.HasSuffix(timesRaw, "}") {
		return nil, ir.Errf("XML_LOOP_TIMES_WRAPPED", &el.Span, "<loop times> must be a bare expression, not wrapped in ${...}")
	}
	timesExpr, perr := sandbox.Parse(el.Span.Path, timesRaw)
	if perr != nil {
		return nil, perr.(*ir.Error)
	}

	b.loopSeq++
	tempName := fmt.Sprintf("__sl_loop_%d_remaining", b.loopSeq)
	if b.declaredVars[tempName] {
		return nil, ir.Errf("XML_LOOP_TEMP_COLLISION", &el.Span, "loop temp variable \""+tempName+"\" collides with a declared variable")
	}
	b.declaredVars[tempName] = true

	varNode := &ir.Node{
		ID: b.newNodeID("var"), Kind: ir.NodeVar, Span: el.Span,
		Decl: &ir.VarDeclaration{Name: tempName, Type: ir.Number(), InitialValue: timesExpr},
	}

	decrement, perr := sandbox.ParseStatements(el.Span.Path, tempName+" -= 1;")
	if perr != nil {
		return nil, perr.(*ir.Error)
	}
	guardExpr, perr := sandbox.Parse(el.Span.Path, tempName+" > 0")
	if perr != nil {
		return nil, perr.(*ir.Error)
	}

	bodyID, err := b.compileGroup(el.ChildElements(), enclosingGroupID)
	if err != nil {
		return nil, err
	}
	decrementNode := &ir.Node{ID: b.newNodeID("code"), Kind: ir.NodeCode, Span: el.Span, Code: tempName + " -= 1;", Stmts: decrement}
	b.groups[bodyID].Nodes = append([]*ir.Node{decrementNode}, b.groups[bodyID].Nodes...)

	whileNode := &ir.Node{ID: b.newNodeID("while"), Kind: ir.NodeWhile, Span: el.Span, When: guardExpr, BodyGroupID: bodyID}

	return []*ir.Node{varNode, whileNode}, nil
}

// parseScriptParams parses `args="[ref:]type:name,..."`.
func parseScriptParams(argsAttr, path string, span ir.Span) ([]ir.ScriptParam, *ir.Error) {
	argsAttr = strings.TrimSpace(argsAttr)
	if argsAttr == "" {
		return nil, nil
	}
	var params []ir.ScriptParam
	seen := map[string]bool{}
	for _, raw := range strings.Split(argsAttr, ",") {
		spec := strings.TrimSpace(raw)
		isRef := false
		if strings.HasPrefix(spec, "ref:") {
			isRef = true
			spec = strings.TrimPrefix(spec, "ref:")
		}
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, ir.Errf("XML_ARGS_MALFORMED", &span, "args entry must be \"[ref:]type:name\"")
		}
		el := &xmlsrc.Element{Span: span}
		t, _, terr := parseTypeName(parts[0], el)
		if terr != nil {
			return nil, terr
		}
		if seen[parts[1]] {
			return nil, ir.Errf("API_DUPLICATE_PARAM", &span, "duplicate parameter \""+parts[1]+"\"")
		}
		seen[parts[1]] = true
		params = append(params, ir.ScriptParam{Name: parts[1], Type: t, IsRef: isRef})
	}
	return params, nil
}

// parseCallArgs parses a <call>/<return> `args="..."` attribute: a
// top-level comma-separated list of value expressions, any of which may be
// `ref:<path>` for a by-reference argument. forReturn rejects any ref arg
// (XML_RETURN_REF_UNSUPPORTED).
func parseCallArgs(argsAttr, path string, forReturn bool) ([]ir.CallArg, *ir.Error) {
	argsAttr = strings.TrimSpace(argsAttr)
	if argsAttr == "" {
		return nil, nil
	}
	var out []ir.CallArg
	for _, seg := range splitTopLevelCommas(argsAttr) {
		seg = strings.TrimSpace(seg)
		if strings.HasPrefix(seg, "ref:") {
			if forReturn {
				return nil, ir.Errf("XML_RETURN_REF_UNSUPPORTED", nil, "<return> does not support ref arguments")
			}
			pathExpr := strings.TrimPrefix(seg, "ref:")
			e, perr := sandbox.Parse(path, pathExpr)
			if perr != nil {
				return nil, perr.(*ir.Error)
			}
			refPath, ok := exprAsPath(e)
			if !ok {
				return nil, ir.Errf("XML_ARGS_MALFORMED", &e.Span, "ref argument must name a variable path")
			}
			out = append(out, ir.CallArg{Value: e, IsRef: true, RefPath: refPath})
			continue
		}
		e, perr := sandbox.Parse(path, seg)
		if perr != nil {
			return nil, perr.(*ir.Error)
		}
		out = append(out, ir.CallArg{Value: e})
	}
	return out, nil
}

// exprAsPath flattens a bare identifier/member chain into a dotted path
// string, for ref-argument bookkeeping; any other expression, including an
// index expression, is rejected.
func exprAsPath(e *ir.Expr) (string, bool) {
	switch e.Kind {
	case ir.ExprIdent:
		return e.Name, true
	case ir.ExprMember:
		base, ok := exprAsPath(e.Left)
		if !ok {
			return "", false
		}
		return base + "." + e.Name, true
	}
	return "", false
}

// splitTopLevelCommas splits s on commas that are not nested inside
// (), [], {}, or string literals.
func splitTopLevelCommas(s string) []string {
	var out []string
	depth := 0
	inStr := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
