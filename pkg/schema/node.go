// Package schema implements the recursive schema node tree used both as a
// type checker and as a codec guide (spec §3, §9 Design Note: "a sum type
// with structural variants; the codec is a single recursive function on
// the sum — do not dispatch through virtual methods"), plus the staged
// collection builder and the migration chain.
package schema

// Kind discriminates the schema node variants.
type Kind int

const (
	KindString Kind = iota
	KindText
	KindNumber
	KindBoolean
	KindDate
	KindBytes
	KindOptional
	KindArray
	KindRecord
	KindObject
	KindLiteral
	KindUnion
)

// Node is the schema tree's single structural type: a tagged union
// carrying only the fields its Kind uses. There is deliberately no
// interface/virtual-method hierarchy here — pkg/schema's codec.go has one
// recursive function that switches on Kind.
type Node struct {
	Kind Kind

	// KindOptional, KindArray, KindRecord
	Inner *Node

	// KindObject: property name -> node. Optional-ness of a property is
	// expressed by wrapping its Node in KindOptional, not by a separate
	// "required" set.
	Properties map[string]*Node

	// KindLiteral
	LiteralValue any

	// KindUnion
	Variants []*Node
}

func String() *Node  { return &Node{Kind: KindString} }
func Text() *Node    { return &Node{Kind: KindText} }
func Number() *Node  { return &Node{Kind: KindNumber} }
func Boolean() *Node { return &Node{Kind: KindBoolean} }
func Date() *Node    { return &Node{Kind: KindDate} }
func Bytes() *Node   { return &Node{Kind: KindBytes} }

func Optional(inner *Node) *Node { return &Node{Kind: KindOptional, Inner: inner} }
func Array(items *Node) *Node    { return &Node{Kind: KindArray, Inner: items} }
func RecordOf(values *Node) *Node { return &Node{Kind: KindRecord, Inner: values} }
func Object(properties map[string]*Node) *Node {
	return &Node{Kind: KindObject, Properties: properties}
}
func Literal(value any) *Node      { return &Node{Kind: KindLiteral, LiteralValue: value} }
func Union(variants ...*Node) *Node { return &Node{Kind: KindUnion, Variants: variants} }
