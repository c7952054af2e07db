package compiler

import (
	"path"
	"strings"

	"scriptlang/internal/ir"
)

// VisibleSets is what a single script can see through its own include
// closure: JSON globals (named by file base name) and
// defs functions. Types are visible project-wide since every object-typed
// <var> or <field> must already resolve at declaration time regardless of
// which file declared the type.
type VisibleSets struct {
	JSONGlobals []string
	Functions   map[string]*FunctionWithBody
}

// Visibility computes the per-script visible sets; the project-wide JSON
// global value table comes from JSONGlobalValues.
func (p *Project) Visibility(scriptPath string) *VisibleSets {
	reachable := p.perScriptReachable[scriptPath]
	var jsonNames []string
	functions := map[string]*FunctionWithBody{}

	for _, rp := range reachable {
		f := p.Files[rp]
		if f == nil {
			continue
		}
		switch f.kind {
		case kindJSON:
			base := path.Base(rp)
			jsonNames = append(jsonNames, strings.TrimSuffix(base, ".json"))
		case kindDecls:
			for _, fnEl := range f.doc.Root.ChildElementsNamed("function") {
				name := fnEl.Attrs["name"]
				if fn, ok := p.Functions[name]; ok {
					functions[name] = fn
				}
			}
		}
	}

	return &VisibleSets{JSONGlobals: jsonNames, Functions: functions}
}

// JSONGlobalValues converts every parsed JSON file into a name→value
// table, keyed the same way Visibility names them.
func (p *Project) JSONGlobalValues() map[string]ir.Value {
	out := map[string]ir.Value{}
	for rp, f := range p.Files {
		if f.kind != kindJSON {
			continue
		}
		name := strings.TrimSuffix(path.Base(rp), ".json")
		out[name] = jsonToValue(f.json)
	}
	return out
}
