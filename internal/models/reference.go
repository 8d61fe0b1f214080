package models

// Reference is a ref path together with the changeset id it points to.
type Reference struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// NewReference creates a reference.
func NewReference(name, target string) Reference {
	return Reference{Name: name, Target: target}
}

// SpecialRef is an entry of the special-ref store. Key is the ref path
// without its leading "refs/".
type SpecialRef struct {
	Key         string `json:"key"`
	ChangesetID string `json:"changeset_id"`
}
