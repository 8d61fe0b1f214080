package refpath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id := strings.Repeat("ab", 20)

	tests := []struct {
		path string
		want Ref
	}{
		{"refs/heads/main", Branch{Name: "main"}},
		{"refs/heads/topic/with/slashes", Branch{Name: "topic/with/slashes"}},
		{"refs/tags/v1.0", Tag{Name: "v1.0"}},
		{"refs/merge-requests/12/head", Special{Key: "merge-requests/12/head"}},
		{"refs/merge-requests/12/merge", Special{Key: "merge-requests/12/merge"}},
		{"refs/merge-requests/3/train", Special{Key: "merge-requests/3/train"}},
		{"refs/pipelines/42", Special{Key: "pipelines/42"}},
		{"refs/environments/prod/deployments/7", Special{Key: "environments/prod/deployments/7"}},
		{"refs/keep-around/" + id, KeepAround{ID: id}},
		{"refs/keep-around/" + strings.ToUpper(id), Unrecognized{Raw: "refs/keep-around/" + strings.ToUpper(id)}},
		{"refs/keep-around/abc", Unrecognized{Raw: "refs/keep-around/abc"}},
		{"refs/merge-requests/0/head", Unrecognized{Raw: "refs/merge-requests/0/head"}},
		{"refs/merge-requests/01/head", Unrecognized{Raw: "refs/merge-requests/01/head"}},
		{"refs/merge-requests/1/other", Unrecognized{Raw: "refs/merge-requests/1/other"}},
		{"refs/heads/", Unrecognized{Raw: "refs/heads/"}},
		{"refs/remotes/origin/main", Unrecognized{Raw: "refs/remotes/origin/main"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Parse(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.path, got.Path())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, path := range []string{"", "not-a-ref", "HEAD", "ALL", "heads/main", "ref/heads/main"} {
		_, err := Parse(path)
		assert.ErrorIs(t, err, ErrInvalidRef, path)
	}
}

func TestParseSpecial(t *testing.T) {
	key, ok := ParseSpecial("refs/pipelines/9")
	assert.True(t, ok)
	assert.Equal(t, "pipelines/9", key)

	_, ok = ParseSpecial("refs/heads/main")
	assert.False(t, ok)

	_, ok = ParseSpecial("pipelines/9")
	assert.False(t, ok)
}

func TestBranchName(t *testing.T) {
	name, ok := BranchName("main")
	assert.True(t, ok)
	assert.Equal(t, "main", name)

	name, ok = BranchName("refs/heads/main")
	assert.True(t, ok)
	assert.Equal(t, "main", name)

	_, ok = BranchName("refs/tags/v1")
	assert.False(t, ok)

	_, ok = BranchName("")
	assert.False(t, ok)
}

func TestEncoders(t *testing.T) {
	assert.Equal(t, "refs/heads/feature", BranchRef("feature"))
	assert.Equal(t, "refs/heads/", BranchRef(""))
	assert.Equal(t, "refs/tags/v2", TagRef("v2"))
	assert.Equal(t, "refs/merge-requests/1/head", SpecialRef("merge-requests/1/head"))
	assert.Equal(t, "refs/keep-around/abc", KeepAroundRef("abc"))
	assert.Equal(t, strings.Repeat("0", 40), ZeroID)
	assert.Equal(t, "HEAD", Head)
}

func TestIsChangesetID(t *testing.T) {
	assert.True(t, IsChangesetID(strings.Repeat("0f", 20)))
	assert.False(t, IsChangesetID(strings.Repeat("0F", 20)))
	assert.False(t, IsChangesetID("0f0f"))
	assert.False(t, IsChangesetID(strings.Repeat("zz", 20)))
}
