package synth

import "testing"

func TestRepairStrictList(t *testing.T) {
	got := RepairCandidates(`[{"title":"X"},{"title":"Y"}]`)
	if len(got) != 2 || got[0].Title.String() != "X" {
		t.Fatalf("strict parse failed: %+v", got)
	}
}

func TestRepairFencedBlock(t *testing.T) {
	got := RepairCandidates("Here you go:\n```json\n[{\"title\":\"X\"}]\n```\nEnjoy!")
	if len(got) != 1 || got[0].Title.String() != "X" {
		t.Fatalf("fenced block extraction failed: %+v", got)
	}
}

func TestRepairBareObjectCoerced(t *testing.T) {
	got := RepairCandidates(`{"title":"solo"}`)
	if len(got) != 1 || got[0].Title.String() != "solo" {
		t.Fatalf("bare object should coerce to one-element list: %+v", got)
	}
}

func TestRepairGarbage(t *testing.T) {
	for _, raw := range []string{
		"total garbage, not even close",
		"```json\nstill { not json\n```",
		"",
		"[1,2,3]",
	} {
		got := RepairCandidates(raw)
		if len(got) != 0 {
			t.Fatalf("garbage %q should yield empty, got %+v", raw, got)
		}
	}
}

func TestRepairUnterminatedFence(t *testing.T) {
	if got := RepairCandidates("```json\n[{\"title\":\"X\"}]"); len(got) != 0 {
		t.Fatalf("unterminated fence should yield empty, got %+v", got)
	}
}
