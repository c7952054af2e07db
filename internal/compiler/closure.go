// Package compiler resolves a project's include closure, declarations, and
// visibility sets, then lowers each reachable script into IR groups
// and nodes. It is grounded on a multi-pass compiler pipeline shape
// (internal/proxy/scripting/include/processor.go walks include directives;
// internal/proxy/scripting/parser/preprocessor.go resolves them before
// parsing proper) but the graph bookkeeping itself is delegated to
// github.com/dominikbraun/graph rather than hand-rolled recursion, since
// the cycle it must detect (head-of-file include comments forming a
// directed graph across scripts/defs/JSON files) is exactly what that
// library is for.
package compiler

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"scriptlang/internal/diag"
	"scriptlang/internal/ir"
	"scriptlang/internal/sandbox"
	"scriptlang/internal/xmlsrc"
)

type fileKind int

const (
	kindScript fileKind = iota
	kindDecls
	kindJSON
)

type sourceFile struct {
	path string
	kind fileKind
	doc  *xmlsrc.Document // nil for JSON
	json any              // nil for XML
}

func classify(p string) fileKind {
	switch {
	case strings.HasSuffix(p, ".json"):
		return kindJSON
	case strings.HasSuffix(p, ".defs.xml") || strings.HasSuffix(p, ".types.xml"):
		return kindDecls
	default:
		return kindScript
	}
}

// Project is the output of include-closure and declaration resolution: the
// inputs C3 needs to lower every reachable script.
type Project struct {
	Files       map[string]*sourceFile
	MainPath    string
	ScriptPaths map[string]string // script name -> path

	Types     map[string]*ir.ScriptType
	Functions map[string]*FunctionWithBody

	// perScriptReachable[path] is the transitive include closure of that
	// script, used to build its visibility sets.
	perScriptReachable map[string][]string
}

// FunctionWithBody pairs a declaration with its parsed, sandbox-ready body.
type FunctionWithBody struct {
	Decl *ir.FunctionDecl
	Body []*ir.Expr
}

// ResolveProject runs C2 end to end over a path→text map.
func ResolveProject(textByPath map[string]string) (*Project, *ir.Error) {
	files := make(map[string]*sourceFile, len(textByPath))
	includeEdges := make(map[string][]string)

	for p, text := range textByPath {
		norm := path.Clean(p)
		switch classify(norm) {
		case kindJSON:
			var v any
			if err := json.Unmarshal([]byte(text), &v); err != nil {
				return nil, ir.Errf("API_INVALID_JSON", &ir.Span{Path: norm}, err.Error())
			}
			files[norm] = &sourceFile{path: norm, kind: kindJSON, json: v}
		default:
			doc, err := xmlsrc.Parse(norm, text)
			if err != nil {
				return nil, err.(*ir.Error)
			}
			k := kindScript
			if doc.Root.Name == "defs" || doc.Root.Name == "types" {
				k = kindDecls
			}
			files[norm] = &sourceFile{path: norm, kind: k, doc: doc}
			for _, inc := range doc.Includes {
				includeEdges[norm] = append(includeEdges[norm], normalizeInclude(norm, inc))
			}
		}
	}

	if err := checkAcyclic(files, includeEdges); err != nil {
		return nil, err
	}

	mainPath, mainCount := "", 0
	scriptPaths := map[string]string{}
	for p, f := range files {
		if f.kind != kindScript {
			continue
		}
		name := f.doc.Root.Attrs["name"]
		if name == "" {
			continue
		}
		if existing, ok := scriptPaths[name]; ok {
			return nil, ir.Errf("API_DUPLICATE_SCRIPT_NAME", &f.doc.Root.Span,
				fmt.Sprintf("script name %q declared in both %s and %s", name, existing, p))
		}
		scriptPaths[name] = p
		if name == "main" {
			mainPath = p
			mainCount++
		}
	}
	if mainCount == 0 {
		return nil, ir.Errf("XML_INCLUDE_NO_MAIN", nil, "no script declares name=\"main\"")
	}

	perScript := make(map[string][]string, len(scriptPaths))
	for _, p := range scriptPaths {
		perScript[p] = closureFrom(p, includeEdges)
	}

	types, functions, err := collectDecls(files, perScript[mainPath], includeEdges)
	if err != nil {
		return nil, err
	}

	diag.Info("compiler: resolved include closure", "main", mainPath, "scripts", len(scriptPaths), "types", len(types), "functions", len(functions))

	return &Project{
		Files:              files,
		MainPath:           mainPath,
		ScriptPaths:        scriptPaths,
		Types:              types,
		Functions:          functions,
		perScriptReachable: perScript,
	}, nil
}

func normalizeInclude(fromPath, rel string) string {
	dir := path.Dir(fromPath)
	return path.Clean(path.Join(dir, rel))
}

// checkAcyclic builds the full include graph and verifies it has no
// cycles, reporting the involved files on failure.
func checkAcyclic(files map[string]*sourceFile, edges map[string][]string) *ir.Error {
	g := graph.New(graph.StringHash, graph.Directed())
	for p := range files {
		_ = g.AddVertex(p)
	}
	for from, tos := range edges {
		for _, to := range tos {
			if _, ok := files[to]; !ok {
				return ir.Errf("XML_INCLUDE_MISSING", nil, fmt.Sprintf("%s includes missing file %s", from, to))
			}
			if err := g.AddEdge(from, to); err != nil {
				// duplicate edge; not a structural error
				continue
			}
		}
	}
	if _, err := graph.TopologicalSort(g); err != nil {
		sccs, _ := graph.StronglyConnectedComponents(g)
		var cyclePaths []string
		for _, scc := range sccs {
			if len(scc) > 1 {
				sort.Strings(scc)
				cyclePaths = append(cyclePaths, strings.Join(scc, " -> "))
			}
		}
		return ir.Errf("XML_INCLUDE_CYCLE", nil, "include cycle detected: "+strings.Join(cyclePaths, "; "))
	}
	return nil
}

// closureFrom returns every file reachable from start via include edges,
// start included. Safe to run without further cycle checks because the
// whole-project graph has already been proven acyclic.
func closureFrom(start string, edges map[string][]string) []string {
	seen := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		for _, next := range edges[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return out
}

// collectDecls parses <defs>/<types> type and function declarations across
// the given reachable file set.
func collectDecls(files map[string]*sourceFile, reachable []string, edges map[string][]string) (map[string]*ir.ScriptType, map[string]*FunctionWithBody, *ir.Error) {
	types := map[string]*ir.ScriptType{}
	typeDeps := map[string][]string{} // type name -> names of object-typed fields, for recursion check
	functions := map[string]*FunctionWithBody{}

	allReachable := map[string]bool{}
	for _, p := range reachable {
		allReachable[p] = true
		for _, d := range closureFrom(p, edges) {
			allReachable[d] = true
		}
	}

	for p := range allReachable {
		f := files[p]
		if f == nil || f.kind != kindDecls {
			continue
		}
		for _, typeEl := range f.doc.Root.ChildElementsNamed("type") {
			name := typeEl.Attrs["name"]
			if name == "" {
				continue
			}
			if _, dup := types[name]; dup {
				return nil, nil, ir.Errf("TYPE_DUPLICATE", &typeEl.Span, "duplicate type declaration \""+name+"\"")
			}
			fields, deps, err := parseFields(typeEl)
			if err != nil {
				return nil, nil, err
			}
			types[name] = &ir.ScriptType{Kind: ir.KindObject, Object: name, Fields: fields}
			typeDeps[name] = deps
		}
		for _, fnEl := range f.doc.Root.ChildElementsNamed("function") {
			name := fnEl.Attrs["name"]
			if name == "" {
				continue
			}
			if _, dup := functions[name]; dup {
				return nil, nil, ir.Errf("TYPE_DUPLICATE", &fnEl.Span, "duplicate function declaration \""+name+"\"")
			}
			fn, err := parseFunction(fnEl)
			if err != nil {
				return nil, nil, err
			}
			functions[name] = fn
		}
	}

	if err := checkTypeRecursion(typeDeps); err != nil {
		return nil, nil, err
	}
	if err := resolveFieldTypeNames(types); err != nil {
		return nil, nil, err
	}

	return types, functions, nil
}

func parseFields(typeEl *xmlsrc.Element) ([]ir.ObjectField, []string, *ir.Error) {
	var fields []ir.ObjectField
	var deps []string
	seen := map[string]bool{}
	for _, fieldEl := range typeEl.ChildElementsNamed("field") {
		name := fieldEl.Attrs["name"]
		typeName := fieldEl.Attrs["type"]
		if name == "" || typeName == "" {
			return nil, nil, ir.Errf("TYPE_MALFORMED", &fieldEl.Span, "field requires name and type attributes")
		}
		if seen[name] {
			return nil, nil, ir.Errf("TYPE_DUPLICATE_FIELD", &fieldEl.Span, "duplicate field \""+name+"\"")
		}
		seen[name] = true
		t, custom, err := parseTypeName(typeName, fieldEl)
		if err != nil {
			return nil, nil, err
		}
		if custom != "" {
			deps = append(deps, custom)
		}
		fields = append(fields, ir.ObjectField{Name: name, Type: t})
	}
	return fields, deps, nil
}

// parseTypeName parses the authoring-facing type syntax:
// number|string|boolean, T[], Map<string,T>, or a custom type name.
func parseTypeName(s string, el *xmlsrc.Element) (ir.ScriptType, string, *ir.Error) {
	s = strings.TrimSpace(s)
	switch s {
	case "number":
		return ir.Number(), "", nil
	case "string":
		return ir.String(), "", nil
	case "boolean":
		return ir.Boolean(), "", nil
	}
	if strings.HasSuffix(s, "[]") {
		elemType, custom, err := parseTypeName(strings.TrimSuffix(s, "[]"), el)
		if err != nil {
			return ir.ScriptType{}, "", err
		}
		return ir.ArrayOf(elemType), custom, nil
	}
	if strings.HasPrefix(s, "Map<") && strings.HasSuffix(s, ">") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "Map<"), ">")
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != "string" {
			return ir.ScriptType{}, "", ir.Errf("TYPE_UNSUPPORTED", &el.Span, "map key type must be string")
		}
		valType, custom, err := parseTypeName(strings.TrimSpace(parts[1]), el)
		if err != nil {
			return ir.ScriptType{}, "", err
		}
		return ir.MapOfString(valType), custom, nil
	}
	// custom object type name; resolved against the project's type table
	// once the full set is known (resolveFieldTypeNames).
	return ir.Object(s, nil), s, nil
}

// resolveFieldTypeNames replaces placeholder custom-object field types
// (Object with nil Fields) with the resolved declaration, failing on
// unknown names.
func resolveFieldTypeNames(types map[string]*ir.ScriptType) *ir.Error {
	var resolve func(t *ir.ScriptType) *ir.Error
	resolve = func(t *ir.ScriptType) *ir.Error {
		switch t.Kind {
		case ir.KindArray, ir.KindMap:
			return resolve(t.Element)
		case ir.KindObject:
			if t.Fields != nil {
				return nil
			}
			decl, ok := types[t.Object]
			if !ok {
				return ir.Errf("TYPE_UNKNOWN", nil, "unknown type \""+t.Object+"\"")
			}
			t.Fields = decl.Fields
		}
		return nil
	}
	for _, t := range types {
		for i := range t.Fields {
			if err := resolve(&t.Fields[i].Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkTypeRecursion rejects any type whose field graph reaches itself
// (TYPE_RECURSIVE), using a plain DFS with a recursion
// stack since object field graphs are small and the project-wide include
// graph already carries the heavier acyclicity proof via dominikbraun/graph.
func checkTypeRecursion(deps map[string][]string) *ir.Error {
	const (
		white = iota
		gray
		black
	)
	color := map[string]int{}
	var visit func(string) *ir.Error
	visit = func(name string) *ir.Error {
		switch color[name] {
		case gray:
			return ir.Errf("TYPE_RECURSIVE", nil, "type \""+name+"\" is recursive")
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

func parseFunction(el *xmlsrc.Element) (*FunctionWithBody, *ir.Error) {
	name := el.Attrs["name"]
	returnSpec := el.Attrs["return"]
	argsSpec := el.Attrs["args"]

	retParts := strings.SplitN(returnSpec, ":", 2)
	if len(retParts) != 2 {
		return nil, ir.Errf("TYPE_MALFORMED", &el.Span, "function return must be \"type:name\"")
	}
	retType, _, err := parseTypeName(retParts[0], el)
	if err != nil {
		return nil, err
	}
	retParam := ir.ScriptParam{Name: retParts[1], Type: retType}

	var params []ir.ScriptParam
	if strings.TrimSpace(argsSpec) != "" {
		seen := map[string]bool{}
		for _, raw := range strings.Split(argsSpec, ",") {
			spec := strings.TrimSpace(raw)
			parts := strings.SplitN(spec, ":", 2)
			if len(parts) != 2 {
				return nil, ir.Errf("TYPE_MALFORMED", &el.Span, "function arg must be \"type:name\"")
			}
			pType, _, err := parseTypeName(parts[0], el)
			if err != nil {
				return nil, err
			}
			if seen[parts[1]] {
				return nil, ir.Errf("API_DUPLICATE_PARAM", &el.Span, "duplicate parameter \""+parts[1]+"\"")
			}
			seen[parts[1]] = true
			params = append(params, ir.ScriptParam{Name: parts[1], Type: pType})
		}
	}

	body, perr := sandbox.ParseStatements(el.Span.Path, el.TextContent())
	if perr != nil {
		return nil, perr.(*ir.Error)
	}

	return &FunctionWithBody{
		Decl: &ir.FunctionDecl{Name: name, Params: params, Return: retParam, Source: el.TextContent(), Span: el.Span},
		Body: body,
	}, nil
}

// jsonToValue converts a generically-decoded JSON document into an
// ir.Value tree suitable for exposure as a deep-frozen sandbox global.
func jsonToValue(v any) ir.Value {
	switch t := v.(type) {
	case nil:
		return ir.Value{Type: ir.String(), String: ""}
	case float64:
		return ir.Value{Type: ir.Number(), Number: t}
	case string:
		return ir.Value{Type: ir.String(), String: t}
	case bool:
		return ir.Value{Type: ir.Boolean(), Bool: t}
	case []any:
		elems := make([]ir.Value, len(t))
		elemType := ir.Number()
		for i, e := range t {
			elems[i] = jsonToValue(e)
			if i == 0 {
				elemType = elems[i].Type
			}
		}
		return ir.Value{Type: ir.ArrayOf(elemType), Array: elems}
	case map[string]any:
		fields := make(map[string]ir.Value, len(t))
		for k, e := range t {
			fields[k] = jsonToValue(e)
		}
		return ir.Value{Type: ir.ScriptType{Kind: ir.KindObject}, Object: fields}
	default:
		return ir.Value{Type: ir.String(), String: fmt.Sprintf("%v", t)}
	}
}
