package cloak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloakIsDeterministic(t *testing.T) {
	c, err := New([]byte("network-secret"), "users.example.net")
	require.NoError(t, err)

	a := c.Cloak("1.2.3.4")
	b := c.Cloak("1.2.3.4")
	assert.Equal(t, a, b)
	assert.Contains(t, a, ".users.example.net")
}

func TestCloakDiffersByInputAndSecret(t *testing.T) {
	c1, _ := New([]byte("secret-one"), "net")
	c2, _ := New([]byte("secret-two"), "net")

	assert.NotEqual(t, c1.Cloak("1.2.3.4"), c1.Cloak("5.6.7.8"))
	assert.NotEqual(t, c1.Cloak("1.2.3.4"), c2.Cloak("1.2.3.4"))
}
