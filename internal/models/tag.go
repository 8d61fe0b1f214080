package models

// TagType tells where a tag comes from in the backing repository.
type TagType string

const (
	TagGlobal  TagType = "global"  // versioned tag
	TagLocal   TagType = "local"   // local-only tag, never exchanged
	TagBuiltin TagType = "builtin" // synthetic tag maintained by the engine, e.g. "tip"
)

// DefaultExcludedTagTypes are tag types that must not surface as Git tags.
var DefaultExcludedTagTypes = []TagType{TagLocal, TagBuiltin}

// Tag is a native tag.
type Tag struct {
	Name        string  `json:"name"`
	ChangesetID string  `json:"changeset_id"`
	Type        TagType `json:"type"`
}

// ParseTagType validates a tag type name.
func ParseTagType(s string) (TagType, bool) {
	switch t := TagType(s); t {
	case TagGlobal, TagLocal, TagBuiltin:
		return t, true
	}
	return "", false
}
