package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	client, err := r.Get("nosuch")
	assert.Nil(t, client)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Contains(t, err.Error(), "nosuch")
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("mockidp", func(*zap.Logger) (Client, error) {
		return NewMockClient("mockidp"), nil
	})

	client, err := r.Get("mockidp")
	require.NoError(t, err)
	assert.Equal(t, "mockidp", client.Name())
	assert.Contains(t, r.Names(), "mockidp")
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("missing credentials")
	r := NewRegistry(zap.NewNop())
	r.Register("broken", func(*zap.Logger) (Client, error) {
		return nil, boom
	})

	client, err := r.Get("broken")
	assert.Nil(t, client)
	assert.ErrorIs(t, err, boom)
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("idp", func(*zap.Logger) (Client, error) {
		return NewMockClient("old"), nil
	})
	r.Register("idp", func(*zap.Logger) (Client, error) {
		return NewMockClient("new"), nil
	})

	client, err := r.Get("idp")
	require.NoError(t, err)
	assert.Equal(t, "new", client.Name())
}
