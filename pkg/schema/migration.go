package schema

import "fmt"

// MigrateFunc upgrades a record's data from the immediately preceding
// schema version's shape to this version's shape. Migrations are pure
// and expected to be idempotent-on-shape; the engine never retries a
// failing migration.
type MigrateFunc func(data map[string]any) (map[string]any, error)

// SchemaVersion is one entry in a collection's ordered schemaVersions
// list. Migrate is nil only for version 1.
type SchemaVersion struct {
	Version int
	Schema  *Node
	Migrate MigrateFunc
}

// ValidateVersionChain enforces the shape invariants on a schemaVersions
// list: versions start at 1, are strictly increasing by 1, and every
// version beyond the first carries a Migrate function.
func ValidateVersionChain(versions []SchemaVersion) error {
	if len(versions) == 0 {
		return fmt.Errorf("schema: collection must declare at least schema version 1")
	}
	for i, v := range versions {
		want := i + 1
		if v.Version != want {
			return fmt.Errorf("schema: schemaVersions must be contiguous starting at 1, got version %d at position %d", v.Version, i)
		}
		if v.Version > 1 && v.Migrate == nil {
			return fmt.Errorf("schema: version %d requires a migrate function", v.Version)
		}
		if v.Schema == nil {
			return fmt.Errorf("schema: version %d has a nil schema", v.Version)
		}
	}
	return nil
}

// CurrentVersion returns the highest declared version, i.e. the last
// entry of a chain already validated by ValidateVersionChain.
func CurrentVersion(versions []SchemaVersion) int {
	return versions[len(versions)-1].Version
}

// Migrate walks data forward from fromVersion to the chain's current
// version, applying each intermediate Migrate function in order. It
// returns the upgraded data and the version it now represents. Called
// on every read of a record whose stored version trails currentVersion;
// whether the result is persisted back is the read-path caller's choice
// (the `migrate` read option), not this function's.
func Migrate(versions []SchemaVersion, fromVersion int, data map[string]any) (map[string]any, int, error) {
	current := CurrentVersion(versions)
	if fromVersion > current {
		return nil, 0, fmt.Errorf("schema: record version %d exceeds collection's current version %d", fromVersion, current)
	}
	if fromVersion == current {
		return data, fromVersion, nil
	}

	version := fromVersion
	for _, sv := range versions {
		if sv.Version <= version {
			continue
		}
		upgraded, err := sv.Migrate(data)
		if err != nil {
			return nil, 0, fmt.Errorf("schema: migrate to version %d: %w", sv.Version, err)
		}
		data = upgraded
		version = sv.Version
	}
	return data, version, nil
}
