package ir

// TypeKind tags a ScriptType the way a tagged-union value type tags a
// runtime Value — a small closed enum switched on everywhere instead of an
// interface hierarchy.
type TypeKind int

const (
	KindNumber TypeKind = iota
	KindString
	KindBoolean
	KindArray
	KindMap
	KindObject
)

// ScriptType is the tagged union: primitive | array | map |
// object. There is no "null" type — absence is always a zero value of one
// of these kinds.
type ScriptType struct {
	Kind    TypeKind
	Element *ScriptType       // Kind == KindArray: element type; KindMap: value type
	Object  string            // Kind == KindObject: declared type name
	Fields  []ObjectField     // Kind == KindObject: ordered, resolved fields
}

// ObjectField is one ordered field of an object type declaration.
type ObjectField struct {
	Name string
	Type ScriptType
}

func Number() ScriptType  { return ScriptType{Kind: KindNumber} }
func String() ScriptType  { return ScriptType{Kind: KindString} }
func Boolean() ScriptType { return ScriptType{Kind: KindBoolean} }
func ArrayOf(elem ScriptType) ScriptType {
	e := elem
	return ScriptType{Kind: KindArray, Element: &e}
}

// MapOfString is the map{key=string,value} type — the key
// type is always string.
func MapOfString(value ScriptType) ScriptType {
	v := value
	return ScriptType{Kind: KindMap, Element: &v}
}

func Object(name string, fields []ObjectField) ScriptType {
	return ScriptType{Kind: KindObject, Object: name, Fields: fields}
}

// Equal reports structural equality, following named-object types by name
// (field lists are resolved once at declaration time so name equality is
// sufficient and avoids infinite recursion on self-referential graphs —
// TYPE_RECURSIVE is rejected earlier, at declaration resolution).
func (t ScriptType) Equal(other ScriptType) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindArray, KindMap:
		if t.Element == nil || other.Element == nil {
			return t.Element == other.Element
		}
		return t.Element.Equal(*other.Element)
	case KindObject:
		return t.Object == other.Object
	default:
		return true
	}
}

func (t ScriptType) String() string {
	switch t.Kind {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return t.Element.String() + "[]"
	case KindMap:
		return "Map<string," + t.Element.String() + ">"
	case KindObject:
		return t.Object
	default:
		return "<unknown>"
	}
}

// FieldType looks up a named field's declared type on an object type.
func (t ScriptType) FieldType(name string) (ScriptType, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return ScriptType{}, false
}

// ScriptParam is one positional parameter of a script or function
// declaration: {name, type, isRef}.
type ScriptParam struct {
	Name  string
	Type  ScriptType
	IsRef bool
}

// FunctionDecl is a <function> declaration from <defs>/<types>:
// process-pure, sandboxed, no script-variable access.
type FunctionDecl struct {
	Name   string
	Params []ScriptParam
	Return ScriptParam
	Source string // inline code body
	Span   Span
}
