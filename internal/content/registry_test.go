package content

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadCollectsRecordsByID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "items.yaml", `
records:
  - id: sword_01
    name: Iron Sword
    damage: 5
  - id: shield_01
    name: Wooden Shield
    block: 2
`)
	reg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Count("items") != 2 {
		t.Fatalf("expected 2 items, got %d", reg.Count("items"))
	}
	rec, ok := reg.Lookup("items", "sword_01")
	if !ok {
		t.Fatalf("expected sword_01 to be found")
	}
	if rec["name"] != "Iron Sword" {
		t.Fatalf("expected name Iron Sword, got %v", rec["name"])
	}
}

func TestLoadPreservesFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "npcs.yaml", `
records:
  - id: c
    name: C
  - id: a
    name: A
  - id: b
    name: B
`)
	reg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids := reg.IDs("npcs")
	want := []string{"c", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], id)
		}
	}
}

func TestLoadMissingDirReturnsEmptyRegistry(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Load on missing dir should not error, got %v", err)
	}
	if len(reg.Collections()) != 0 {
		t.Fatalf("expected no collections, got %v", reg.Collections())
	}
}

func TestLoadRejectsRecordWithoutID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", `
records:
  - name: No ID Here
`)
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error for a record missing id")
	}
}

func TestNestedMapsAndListsNormalize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quests.yaml", `
records:
  - id: q1
    rewards:
      - kind: gold
        amount: 100
      - kind: item
        amount: 1
    meta:
      repeatable: false
`)
	reg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, _ := reg.Lookup("quests", "q1")
	rewards, ok := rec["rewards"].([]any)
	if !ok || len(rewards) != 2 {
		t.Fatalf("expected a 2-element rewards list, got %#v", rec["rewards"])
	}
	first, ok := rewards[0].(map[string]any)
	if !ok || first["kind"] != "gold" {
		t.Fatalf("expected first reward kind=gold, got %#v", rewards[0])
	}
	meta, ok := rec["meta"].(map[string]any)
	if !ok || meta["repeatable"] != false {
		t.Fatalf("expected meta.repeatable=false, got %#v", rec["meta"])
	}
}
