package crdt

import "testing"

func TestMergeLaterTimestampWins(t *testing.T) {
	local, _ := New(map[string]any{"name": "Alice", "age": float64(30)}, 100, "replica-a")
	remote, _ := New(map[string]any{"name": "Alicia", "age": float64(30)}, 200, "replica-b")

	merged, err := Merge(local, remote)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	data, err := ToData(merged)
	if err != nil {
		t.Fatalf("ToData: %v", err)
	}
	if data["name"] != "Alicia" {
		t.Fatalf("name = %v, want Alicia (later write)", data["name"])
	}
}

func TestMergeCommutative(t *testing.T) {
	a, _ := New(map[string]any{"x": float64(1)}, 50, "replica-a")
	b, _ := New(map[string]any{"x": float64(2)}, 50, "replica-b")

	ab, err := Merge(a, b)
	if err != nil {
		t.Fatalf("Merge(a,b): %v", err)
	}
	ba, err := Merge(b, a)
	if err != nil {
		t.Fatalf("Merge(b,a): %v", err)
	}
	dataAB, _ := ToData(ab)
	dataBA, _ := ToData(ba)
	if dataAB["x"] != dataBA["x"] {
		t.Fatalf("merge not commutative: ab=%v ba=%v", dataAB["x"], dataBA["x"])
	}
}

func TestUpdateOnlyStampsChangedFields(t *testing.T) {
	s, _ := New(map[string]any{"name": "Alice", "age": float64(30)}, 10, "replica-a")
	updated, err := Update(s, map[string]any{"age": float64(31)}, 20, "replica-a")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	data, _ := ToData(updated)
	if data["name"] != "Alice" || data["age"] != float64(31) {
		t.Fatalf("unexpected merged data: %#v", data)
	}
}

func TestMergeConverges(t *testing.T) {
	// Two replicas independently update disjoint fields of the same
	// record, then both pulls apply the other's change: both must
	// converge to the same merged state regardless of application order.
	base, _ := New(map[string]any{"name": "Alice", "age": float64(30)}, 1, "seed")

	replicaA, _ := Update(base, map[string]any{"name": "Alice B."}, 10, "replica-a")
	replicaB, _ := Update(base, map[string]any{"age": float64(31)}, 11, "replica-b")

	mergedAtA, err := Merge(replicaA, replicaB)
	if err != nil {
		t.Fatalf("merge at A: %v", err)
	}
	mergedAtB, err := Merge(replicaB, replicaA)
	if err != nil {
		t.Fatalf("merge at B: %v", err)
	}

	dataA, _ := ToData(mergedAtA)
	dataB, _ := ToData(mergedAtB)
	if dataA["name"] != dataB["name"] || dataA["age"] != dataB["age"] {
		t.Fatalf("replicas diverged: a=%#v b=%#v", dataA, dataB)
	}
	if dataA["name"] != "Alice B." || dataA["age"] != float64(31) {
		t.Fatalf("unexpected converged state: %#v", dataA)
	}
}
