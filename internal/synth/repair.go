package synth

import (
	"encoding/json"
	"strings"

	"github.com/unattachedgray/feedbuffet/internal/story"
)

// RepairCandidates parses model output into story candidates with a tiered
// strategy: strict parse first, then extraction of a fenced ```json block,
// then give up. A top-level list is accepted, a single bare object is
// coerced into a one-element list, anything else yields an empty slice.
// Repair never returns an error; a hopeless payload is simply zero
// candidates for the batch.
func RepairCandidates(raw string) []story.Candidate {
	if out, ok := parseCandidates(raw); ok {
		return out
	}
	if block, ok := fencedBlock(raw); ok {
		if out, ok := parseCandidates(block); ok {
			return out
		}
	}
	return []story.Candidate{}
}

func parseCandidates(text string) ([]story.Candidate, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var list []story.Candidate
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return list, true
	}
	var single story.Candidate
	if err := json.Unmarshal([]byte(text), &single); err == nil {
		return []story.Candidate{single}, true
	}
	return nil, false
}

// fencedBlock extracts the body of the first ```json code fence.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```json")
	if start < 0 {
		return "", false
	}
	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
