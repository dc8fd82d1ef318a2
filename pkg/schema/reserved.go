package schema

import "fmt"

// reservedFieldNames are names a user-defined object schema must not use
// at the top level: they are populated by the storage engine itself.
var reservedFieldNames = map[string]bool{
	"id":        true,
	"createdAt": true,
	"updatedAt": true,
}

// ReservedFieldError reports a schema that declared a library-reserved
// field name.
type ReservedFieldError struct {
	Field string
}

func (e *ReservedFieldError) Error() string {
	return fmt.Sprintf("schema: field %q is reserved by the storage engine", e.Field)
}

// CheckReservedFields walks the top-level properties of an object schema
// and rejects any reserved name. Nested objects are unrestricted: only
// the record's own top-level fields collide with engine-managed metadata.
func CheckReservedFields(node *Node) error {
	if node.Kind != KindObject {
		return nil
	}
	for name := range node.Properties {
		if reservedFieldNames[name] {
			return &ReservedFieldError{Field: name}
		}
	}
	return nil
}

// CheckCollectionName rejects collection names in the library-reserved
// `__`-prefixed namespace.
func CheckCollectionName(name string) error {
	if len(name) >= 2 && name[0] == '_' && name[1] == '_' {
		return fmt.Errorf("schema: collection name %q is in the reserved __ namespace", name)
	}
	return nil
}
