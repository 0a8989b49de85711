package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNames(t *testing.T) {
	n := NewNaming("")

	card, err := n.ForFamily(Card)
	require.NoError(t, err)
	assert.Equal(t, "eventflow.card.v1", card)
	assert.Equal(t, "eventflow.deadletter.v1", n.DeadLetter())
	assert.Equal(t, []string{
		"eventflow.card.v1",
		"eventflow.user.v1",
		"eventflow.transaction.v1",
		"eventflow.notification.v1",
		"eventflow.system.v1",
		"eventflow.deadletter.v1",
	}, n.All())
}

func TestNamespaceOverride(t *testing.T) {
	n := NewNaming("staging")
	user, err := n.ForFamily(User)
	require.NoError(t, err)
	assert.Equal(t, "staging.user.v1", user)
	assert.True(t, n.IsKnown("staging.deadletter.v1"))
	assert.False(t, n.IsKnown("eventflow.user.v1"))
}

func TestUnknownFamily(t *testing.T) {
	_, err := NewNaming("").ForFamily("invoice")
	assert.Error(t, err)
	assert.False(t, IsFamily("invoice"))
	assert.True(t, IsFamily("system"))
}

func TestZeroNamingFallsBack(t *testing.T) {
	assert.Equal(t, "eventflow.deadletter.v1", Naming{}.DeadLetter())
}
