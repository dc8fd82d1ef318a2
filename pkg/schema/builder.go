package schema

import "fmt"

// FieldIndex is a secondary index over a single top-level field.
type FieldIndex struct {
	Field  string
	Unique bool
	// Sparse entries are omitted from the index when the field is null;
	// otherwise a null participates like any other value.
	Sparse bool
}

// ComputeFunc derives a computed index's key from a record's data. It
// must be deterministic and pure; a returning error aborts the write
// that triggered it with ComputedIndexError semantics (enforced by
// pkg/storage, which owns the write transaction).
type ComputeFunc func(data map[string]any) (any, error)

// ComputedIndex indexes a derived key rather than a stored field.
type ComputedIndex struct {
	Name    string
	Compute ComputeFunc
	Unique  bool
	Sparse  bool
}

// Blueprint is the immutable value a Build() call produces. It carries
// no live state; engine.Open materializes it into a running collection.
type Blueprint struct {
	Name            string
	Versions        []SchemaVersion
	FieldIndexes    []FieldIndex
	ComputedIndexes []ComputedIndex
}

// IndexOption configures an index declared via Index or ComputedIndex.
type IndexOption func(*indexOpts)

type indexOpts struct {
	unique bool
	sparse bool
}

func Unique() IndexOption { return func(o *indexOpts) { o.unique = true } }
func Sparse() IndexOption { return func(o *indexOpts) { o.sparse = true } }

// CollectionBuilder is the builder's first stage: it only exposes
// Version, and only a call naming version 1 can proceed past it. This
// mirrors the spec's "n=1 requirement at the type level" by splitting
// the fluent chain into two Go types rather than by a generic type
// parameter, since the version number itself is a runtime int.
type CollectionBuilder struct {
	name string
}

// NewCollection starts a collection definition. The returned builder
// only accepts an initial Version(1, ...) call.
func NewCollection(name string) *CollectionBuilder {
	return &CollectionBuilder{name: name}
}

// Version declares schema version 1, the collection's initial shape,
// and advances the builder to its second stage. Declaring any version
// other than 1 here is a builder-time contract violation surfaced at
// Build().
func (b *CollectionBuilder) Version(version int, node *Node) *VersionedCollectionBuilder {
	vb := &VersionedCollectionBuilder{name: b.name}
	if version != 1 {
		vb.err = fmt.Errorf("schema: first Version() call must declare version 1, got %d", version)
		return vb
	}
	if err := CheckReservedFields(node); err != nil {
		vb.err = err
		return vb
	}
	vb.versions = append(vb.versions, SchemaVersion{Version: 1, Schema: node})
	return vb
}

// VersionedCollectionBuilder is the builder's second stage: it exposes
// the operations spec §3/§9 reserve for post-v1 state — further
// versions, field indexes, computed indexes — and Build.
type VersionedCollectionBuilder struct {
	name            string
	versions        []SchemaVersion
	fieldIndexes    []FieldIndex
	computedIndexes []ComputedIndex
	err             error
}

// Version appends a later schema version. migrate is mandatory for any
// version beyond 1 and is validated at Build().
func (b *VersionedCollectionBuilder) Version(version int, node *Node, migrate MigrateFunc) *VersionedCollectionBuilder {
	if b.err != nil {
		return b
	}
	if err := CheckReservedFields(node); err != nil {
		b.err = err
		return b
	}
	b.versions = append(b.versions, SchemaVersion{Version: version, Schema: node, Migrate: migrate})
	return b
}

// Index declares a secondary index on a top-level field.
func (b *VersionedCollectionBuilder) Index(field string, opts ...IndexOption) *VersionedCollectionBuilder {
	if b.err != nil {
		return b
	}
	o := applyIndexOpts(opts)
	b.fieldIndexes = append(b.fieldIndexes, FieldIndex{Field: field, Unique: o.unique, Sparse: o.sparse})
	return b
}

// ComputedIndex declares an index over a derived key.
func (b *VersionedCollectionBuilder) ComputedIndex(name string, compute ComputeFunc, opts ...IndexOption) *VersionedCollectionBuilder {
	if b.err != nil {
		return b
	}
	o := applyIndexOpts(opts)
	b.computedIndexes = append(b.computedIndexes, ComputedIndex{Name: name, Compute: compute, Unique: o.unique, Sparse: o.sparse})
	return b
}

// Build validates the accumulated definition and produces the
// immutable Blueprint value.
func (b *VersionedCollectionBuilder) Build() (Blueprint, error) {
	if b.err != nil {
		return Blueprint{}, b.err
	}
	if err := CheckCollectionName(b.name); err != nil {
		return Blueprint{}, err
	}
	if err := ValidateVersionChain(b.versions); err != nil {
		return Blueprint{}, err
	}
	return Blueprint{
		Name:            b.name,
		Versions:        b.versions,
		FieldIndexes:    b.fieldIndexes,
		ComputedIndexes: b.computedIndexes,
	}, nil
}

func applyIndexOpts(opts []IndexOption) indexOpts {
	var o indexOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
