package clientid_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/clientid"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a := clientid.Derive("alice")
	b := clientid.Derive("alice")

	assert.Equal(t, a, b)
}

func TestDeriveIsCaseInsensitive(t *testing.T) {
	a := clientid.Derive("Alice")
	b := clientid.Derive("alice")
	c := clientid.Derive("ALICE")

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestDeriveDiffersByUsername(t *testing.T) {
	a := clientid.Derive("alice")
	b := clientid.Derive("bob")

	assert.NotEqual(t, a, b)
}

func TestDeriveProducesValidUUIDForm(t *testing.T) {
	id := clientid.Derive("carol")

	assert.Len(t, id, 36)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
	assert.Equal(t, uuid.RFC4122, parsed.Variant())
}
