package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"scriptlang/internal/ir"
)

// Stringify renders a value using the evaluator's standard conversion rules:
// integers without a decimal point, booleans as
// "true"/"false", arrays/objects/maps via a comma-joined bracketed form.
func Stringify(v ir.Value) string {
	switch v.Type.Kind {
	case ir.KindNumber:
		if v.Number == float64(int64(v.Number)) {
			return strconv.FormatInt(int64(v.Number), 10)
		}
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case ir.KindString:
		return v.String
	case ir.KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case ir.KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = Stringify(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case ir.KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + Stringify(v.Map[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	case ir.KindObject:
		parts := make([]string, 0, len(v.Object))
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+":"+Stringify(v.Object[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ZeroValue builds the type-default value used for an uninitialized <var>
// or an unsupplied script/call argument.
func ZeroValue(t ir.ScriptType) ir.Value {
	switch t.Kind {
	case ir.KindNumber:
		return ir.Value{Type: t, Number: 0}
	case ir.KindString:
		return ir.Value{Type: t, String: ""}
	case ir.KindBoolean:
		return ir.Value{Type: t, Bool: false}
	case ir.KindArray:
		return ir.Value{Type: t, Array: []ir.Value{}}
	case ir.KindMap:
		return ir.Value{Type: t, Map: map[string]ir.Value{}}
	case ir.KindObject:
		fields := make(map[string]ir.Value, len(t.Fields))
		for _, f := range t.Fields {
			fields[f.Name] = ZeroValue(f.Type)
		}
		return ir.Value{Type: t, Object: fields}
	}
	return ir.Value{}
}

// Conforms reports whether v structurally matches declared type t. Checked
// on every write so a variable's declared type can never silently drift.
func Conforms(v ir.Value, t ir.ScriptType) bool {
	if v.Type.Kind != t.Kind {
		return false
	}
	switch t.Kind {
	case ir.KindArray:
		for _, e := range v.Array {
			if !Conforms(e, *t.Element) {
				return false
			}
		}
		return true
	case ir.KindMap:
		for _, e := range v.Map {
			if !Conforms(e, *t.Element) {
				return false
			}
		}
		return true
	case ir.KindObject:
		if v.Type.Object != t.Object {
			return false
		}
		for _, f := range t.Fields {
			fv, ok := v.Object[f.Name]
			if !ok || !Conforms(fv, f.Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func CloneValue(v ir.Value) ir.Value {
	out := v
	if v.Array != nil {
		out.Array = make([]ir.Value, len(v.Array))
		for i, e := range v.Array {
			out.Array[i] = CloneValue(e)
		}
	}
	if v.Map != nil {
		out.Map = make(map[string]ir.Value, len(v.Map))
		for k, e := range v.Map {
			out.Map[k] = CloneValue(e)
		}
	}
	if v.Object != nil {
		out.Object = make(map[string]ir.Value, len(v.Object))
		for k, e := range v.Object {
			out.Object[k] = CloneValue(e)
		}
	}
	return out
}
