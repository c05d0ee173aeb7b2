package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid services", func(t *testing.T) {
		t.Parallel()

		reg, err := New(map[string]string{
			"auth":    "http://auth:3001",
			"product": "http://product:3003/v1",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"auth", "product"}, reg.Names())
	})

	t.Run("invalid URL", func(t *testing.T) {
		t.Parallel()

		_, err := New(map[string]string{"auth": "not a url"})
		assert.Error(t, err)
	})

	t.Run("missing scheme", func(t *testing.T) {
		t.Parallel()

		_, err := New(map[string]string{"auth": "auth:3001"})
		assert.Error(t, err)
	})
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	reg, err := New(map[string]string{"auth": "http://auth:3001"})
	require.NoError(t, err)

	u, err := reg.Resolve("auth")
	require.NoError(t, err)
	assert.Equal(t, "http://auth:3001", u.String())

	_, err = reg.Resolve("billing")
	assert.ErrorIs(t, err, ErrServiceNotConfigured)
}

func TestRegistry_Snapshot(t *testing.T) {
	t.Parallel()

	services := map[string]string{
		"auth": "http://auth:3001",
		"user": "http://user:3002",
	}
	reg, err := New(services)
	require.NoError(t, err)

	first := reg.Snapshot()
	assert.Equal(t, services, first)

	// The snapshot is a copy; mutating it does not affect the registry.
	first["auth"] = "http://evil:80"
	assert.Equal(t, services, reg.Snapshot())
}
