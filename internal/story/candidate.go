package story

import (
	"encoding/json"
	"strings"
)

// Candidate is the model's structured output for one story, before any
// hygiene. None of its fields are trusted.
type Candidate struct {
	Title                     FlexString        `json:"title"`
	Summary                   FlexString        `json:"summary"`
	Category                  FlexString        `json:"category"`
	Entities                  []string          `json:"entities"`
	Topics                    []string          `json:"topics"`
	Sources                   []CandidateSource `json:"sources"`
	RepresentativePublishedAt FlexString        `json:"representative_published_at"`
}

// FlexString tolerates models emitting numbers or null where a string was
// asked for. Anything non-scalar decodes to empty.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

func (f FlexString) String() string { return string(f) }

// CandidateSource accepts either a bare URL string or a partial object.
type CandidateSource struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// UnmarshalJSON never fails: a garbage entry decodes to the zero value,
// which normalizeSources later drops for having no URL. Erroring here would
// take down the decode of the whole candidate list over one bad element.
func (c *CandidateSource) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var u string
		if err := json.Unmarshal(data, &u); err != nil {
			return nil
		}
		c.URL = u
		return nil
	}
	type alias CandidateSource
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return nil
	}
	*c = CandidateSource(a)
	return nil
}
