package model

// Subject is the immutable descriptive context of a production subject (a brief).
type Subject struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Vertical string        `json:"vertical"`
	Gamme    *GammeContext `json:"gamme,omitempty"`
}
