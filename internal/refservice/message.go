package refservice

import (
	"strings"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/store"
)

func commitAuthor(cs *models.Changeset) *remote.CommitAuthor {
	return &remote.CommitAuthor{
		Name:     cs.AuthorName(),
		Email:    cs.AuthorEmail(),
		Date:     cs.Timestamp,
		Timezone: cs.Timezone(),
	}
}

// commitMessage renders a changeset as a Git commit. The changeset author
// is also the committer.
func commitMessage(cs *models.Changeset) *remote.Commit {
	parents := cs.Parents
	if parents == nil {
		parents = []string{}
	}
	return &remote.Commit{
		ID:        cs.ID,
		Subject:   cs.Subject(),
		Body:      cs.Description,
		BodySize:  len(cs.Description),
		ParentIDs: parents,
		Author:    commitAuthor(cs),
		Committer: commitAuthor(cs),
	}
}

// tagMessage renders a tag. Its id is the target changeset id and its
// message the target description.
func tagMessage(t store.TagTarget) remote.Tag {
	return remote.Tag{
		Name:         t.Tag.Name,
		ID:           t.Changeset.ID,
		TargetCommit: commitMessage(t.Changeset),
		Message:      t.Changeset.Description,
		MessageSize:  len(t.Changeset.Description),
	}
}

func branchMessage(h store.BranchHead) remote.Branch {
	return remote.Branch{Name: h.Branch.Name, TargetCommit: commitMessage(h.Changeset)}
}

// findLocalBranch flattens the head commit next to the full ref path.
func findLocalBranch(refName string, h store.BranchHead) remote.FindLocalBranch {
	commit := commitMessage(h.Changeset)
	return remote.FindLocalBranch{
		Name:            refName,
		CommitID:        commit.ID,
		CommitSubject:   strings.TrimSpace(commit.Subject),
		CommitAuthor:    commit.Author,
		CommitCommitter: commit.Committer,
		Commit:          commit,
	}
}
