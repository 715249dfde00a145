package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringStore_RoundTrip(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()

	_, err := s.Get(AnthropicAPIKey)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(AnthropicAPIKey, "  sk-ant-123  "))
	got, err := s.Get(AnthropicAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-123", got)

	require.NoError(t, s.Delete(AnthropicAPIKey))
	assert.ErrorIs(t, s.Delete(AnthropicAPIKey), ErrNotFound)
}

func TestKeyringStore_RejectsEmpty(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, NewKeyringStore().Set(AnthropicAPIKey, "   "))
}

func TestKeyringStore_Unavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus not running"))
	t.Cleanup(keyring.MockInit)
	s := NewKeyringStore()

	_, err := s.Get(AnthropicAPIKey)
	assert.ErrorIs(t, err, ErrKeyringUnavailable)
	assert.ErrorIs(t, s.Set(AnthropicAPIKey, "sk"), ErrKeyringUnavailable)
}

func TestResolve(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()

	assert.Equal(t, "", Resolve(s, AnthropicAPIKey, ""))
	require.NoError(t, s.Set(AnthropicAPIKey, "from-keyring"))
	assert.Equal(t, "from-keyring", Resolve(s, AnthropicAPIKey, ""))
	assert.Equal(t, "from-env", Resolve(s, AnthropicAPIKey, " from-env "))
	assert.Equal(t, "", Resolve(nil, AnthropicAPIKey, ""))
}

func TestMaskAndKnown(t *testing.T) {
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "******7890", Mask("1234567890"))
	assert.True(t, IsKnown(AnthropicAPIKey))
	assert.False(t, IsKnown("github-token"))
}
