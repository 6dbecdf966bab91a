package models

import "time"

// Fact is one (subject, predicate, value) assertion. Subject and Predicate
// are implied by where the fact sits in a note, so only the remaining
// fields are serialized into the structured section.
type Fact struct {
	Subject    string    `json:"subject" yaml:"-"`
	Predicate  string    `json:"predicate" yaml:"-"`
	Value      string    `json:"value" yaml:"value"`
	ID         string    `json:"id" yaml:"id"`
	Target     string    `json:"target,omitempty" yaml:"target,omitempty"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded"`
	Confidence float64   `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Seen       int       `json:"seen,omitempty" yaml:"seen,omitempty"`
}

// IsLink reports whether the fact's value resolved to another entity.
func (f Fact) IsLink() bool {
	return f.Target != ""
}

// Candidate is an unresolved triple produced by extraction.
type Candidate struct {
	Entity        string  `json:"entity"`
	Predicate     string  `json:"predicate"`
	Value         string  `json:"value"`
	Confidence    float64 `json:"confidence,omitempty"`
	ValueIsEntity bool    `json:"value_is_entity,omitempty"`
}
