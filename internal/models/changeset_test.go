package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeset_Timezone(t *testing.T) {
	assert.Equal(t, "+0000", (&Changeset{}).Timezone())
	assert.Equal(t, "+0200", (&Changeset{TZOffset: 7200}).Timezone())
	assert.Equal(t, "-0530", (&Changeset{TZOffset: -(5*3600 + 30*60)}).Timezone())
}

func TestChangeset_Subject(t *testing.T) {
	cs := &Changeset{Description: "Fix parser\n\nLonger explanation"}
	assert.Equal(t, "Fix parser", cs.Subject())
	assert.Equal(t, "", (&Changeset{}).Subject())
}

func TestChangeset_Author(t *testing.T) {
	cs := &Changeset{User: "Jane Doe <jane@example.org>"}
	assert.Equal(t, "Jane Doe", cs.AuthorName())
	assert.Equal(t, "jane@example.org", cs.AuthorEmail())

	cs = &Changeset{User: "jane@example.org"}
	assert.Equal(t, "jane@example.org", cs.AuthorName())
	assert.Equal(t, "jane@example.org", cs.AuthorEmail())

	cs = &Changeset{User: "jane"}
	assert.Equal(t, "jane", cs.AuthorName())
	assert.Equal(t, "", cs.AuthorEmail())
}

func TestChangeset_Date(t *testing.T) {
	cs := &Changeset{Timestamp: 1700000000, TZOffset: 3600}
	d := cs.Date()
	assert.Equal(t, int64(1700000000), d.Unix())
	_, off := d.Zone()
	assert.Equal(t, 3600, off)
}

func TestParseTagType(t *testing.T) {
	tt, ok := ParseTagType("local")
	assert.True(t, ok)
	assert.Equal(t, TagLocal, tt)

	_, ok = ParseTagType("bogus")
	assert.False(t, ok)
}
