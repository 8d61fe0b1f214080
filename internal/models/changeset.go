package models

import (
	"fmt"
	"strings"
	"time"
)

// Changeset is the backing model's unit of history.
type Changeset struct {
	ID          string   `json:"id"`
	Parents     []string `json:"parents,omitempty"`
	User        string   `json:"user"` // "Name <email>"
	Timestamp   int64    `json:"timestamp"`
	TZOffset    int      `json:"tz_offset"` // seconds east of UTC
	Description string   `json:"description"`

	// SpecialRefs and KeepAround are the authoritative per-changeset records
	// the typed-ref stores are rebuilt from.
	SpecialRefs []string `json:"special_refs,omitempty"`
	KeepAround  bool     `json:"keep_around,omitempty"`
}

// ShortID returns a shortened changeset ID (first 12 characters)
func (c *Changeset) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

// Date returns the changeset date in its recorded time zone.
func (c *Changeset) Date() time.Time {
	return time.Unix(c.Timestamp, 0).In(time.FixedZone("", c.TZOffset))
}

// Timezone renders the offset the way Git does, e.g. "+0200".
func (c *Changeset) Timezone() string {
	off := c.TZOffset
	sign := '+'
	if off < 0 {
		sign = '-'
		off = -off
	}
	return fmt.Sprintf("%c%02d%02d", sign, off/3600, (off%3600)/60)
}

// Subject is the first line of the description.
func (c *Changeset) Subject() string {
	subject, _, _ := strings.Cut(c.Description, "\n")
	return subject
}

// AuthorName extracts the name part of User.
func (c *Changeset) AuthorName() string {
	name, _ := splitUser(c.User)
	return name
}

// AuthorEmail extracts the email part of User.
func (c *Changeset) AuthorEmail() string {
	_, email := splitUser(c.User)
	return email
}

// splitUser parses "Name <email>". A bare user is used for both fields,
// except when it looks like an email address.
func splitUser(user string) (string, string) {
	user = strings.TrimSpace(user)
	open := strings.LastIndexByte(user, '<')
	if open >= 0 && strings.HasSuffix(user, ">") {
		return strings.TrimSpace(user[:open]), user[open+1 : len(user)-1]
	}
	if strings.Contains(user, "@") {
		return user, user
	}
	return user, ""
}

// HasSpecialRef reports whether key is recorded on this changeset.
func (c *Changeset) HasSpecialRef(key string) bool {
	for _, k := range c.SpecialRefs {
		if k == key {
			return true
		}
	}
	return false
}
