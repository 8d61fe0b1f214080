package codec

import (
	"testing"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Deterministic(t *testing.T) {
	cs := &models.Changeset{
		ID:          "0123456789abcdef0123456789abcdef01234567",
		User:        "Jane <jane@example.org>",
		Timestamp:   1700000000,
		SpecialRefs: []string{"merge-requests/1/head"},
	}

	a, err := Marshal(cs)
	require.NoError(t, err)
	b, err := Marshal(cs)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var got models.Changeset
	require.NoError(t, Unmarshal(a, &got))
	assert.Equal(t, *cs, got)
}
