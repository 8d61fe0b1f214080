package models

// Branch is a native branch head.
type Branch struct {
	Name        string `json:"name"`
	ChangesetID string `json:"changeset_id"`
}
