package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userV1() *Node {
	return Object(map[string]*Node{
		"name":  String(),
		"email": String(),
	})
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	node := Object(map[string]*Node{
		"name":    String(),
		"age":     Number(),
		"active":  Boolean(),
		"joined":  Date(),
		"avatar":  Optional(Bytes()),
		"tags":    Array(String()),
		"profile": RecordOf(Number()),
	})

	joined := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	value := map[string]any{
		"name":    "Alice",
		"age":     float64(30),
		"active":  true,
		"joined":  joined,
		"avatar":  []byte("png-bytes"),
		"tags":    []any{"a", "b"},
		"profile": map[string]any{"x": float64(1), "y": float64(2)},
	}

	stored, err := Serialize(node, value)
	require.NoError(t, err)

	back, err := Deserialize(node, stored)
	require.NoError(t, err)

	backMap := back.(map[string]any)
	assert.Equal(t, "Alice", backMap["name"])
	assert.Equal(t, joined, backMap["joined"])
	assert.Equal(t, []byte("png-bytes"), backMap["avatar"])
}

func TestSerializeRejectsWrongType(t *testing.T) {
	_, err := Serialize(String(), 42)
	assert.Error(t, err)
}

func TestSerializeMissingRequiredField(t *testing.T) {
	node := Object(map[string]*Node{"name": String()})
	_, err := Serialize(node, map[string]any{})
	assert.Error(t, err)
}

func TestOptionalFieldOmittedIsFine(t *testing.T) {
	node := Object(map[string]*Node{
		"name":     String(),
		"nickname": Optional(String()),
	})
	stored, err := Serialize(node, map[string]any{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", stored.(map[string]any)["name"])
}

func TestUnionMatchesFirstValidVariant(t *testing.T) {
	node := Union(Number(), String())
	v, err := Serialize(node, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestCheckReservedFieldsRejectsReservedNames(t *testing.T) {
	node := Object(map[string]*Node{"id": String()})
	err := CheckReservedFields(node)
	var reservedErr *ReservedFieldError
	require.ErrorAs(t, err, &reservedErr)
	assert.Equal(t, "id", reservedErr.Field)
}

func TestCheckCollectionNameRejectsDunderPrefix(t *testing.T) {
	assert.Error(t, CheckCollectionName("__meta"))
	assert.NoError(t, CheckCollectionName("users"))
}

func TestValidateVersionChainRequiresMigrateAfterV1(t *testing.T) {
	versions := []SchemaVersion{
		{Version: 1, Schema: userV1()},
		{Version: 2, Schema: userV1()},
	}
	err := ValidateVersionChain(versions)
	assert.Error(t, err)
}

func TestMigrateWalksChainInOrder(t *testing.T) {
	v2Schema := Object(map[string]*Node{
		"name":        String(),
		"email":       String(),
		"displayName": String(),
	})
	versions := []SchemaVersion{
		{Version: 1, Schema: userV1()},
		{Version: 2, Schema: v2Schema, Migrate: func(data map[string]any) (map[string]any, error) {
			out := map[string]any{}
			for k, v := range data {
				out[k] = v
			}
			out["displayName"] = data["name"].(string) + "!"
			return out, nil
		}},
	}
	require.NoError(t, ValidateVersionChain(versions))

	upgraded, toVersion, err := Migrate(versions, 1, map[string]any{"name": "Alice", "email": "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, toVersion)
	assert.Equal(t, "Alice!", upgraded["displayName"])
}

func TestCollectionBuilderRejectsNonOneFirstVersion(t *testing.T) {
	_, err := NewCollection("users").Version(2, userV1()).Build()
	assert.Error(t, err)
}

func TestCollectionBuilderBuildsBlueprintWithIndexes(t *testing.T) {
	bp, err := NewCollection("users").
		Version(1, userV1()).
		Index("email", Unique()).
		ComputedIndex("emailDomain", func(data map[string]any) (any, error) {
			return data["email"], nil
		}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "users", bp.Name)
	require.Len(t, bp.FieldIndexes, 1)
	assert.True(t, bp.FieldIndexes[0].Unique)
	require.Len(t, bp.ComputedIndexes, 1)
	assert.Equal(t, "emailDomain", bp.ComputedIndexes[0].Name)
}

func TestCollectionBuilderRejectsReservedDunderName(t *testing.T) {
	_, err := NewCollection("__internal").Version(1, userV1()).Build()
	assert.Error(t, err)
}
