package weave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelProfiles(t *testing.T) {
	assert.Equal(t, []Model{GPT3, GPT4}, Models())
	assert.Equal(t, "gpt-3.5-turbo", GPT3.Name())
	assert.Equal(t, 4096, GPT3.MaxContext())
	assert.Equal(t, "gpt-4", GPT4.String())
	assert.Equal(t, 8192, GPT4.Profile().MaxContext)
	assert.Equal(t, GPT3, DefaultModel)
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel(" GPT-4 ")
	require.NoError(t, err)
	assert.Equal(t, GPT4, m)

	_, err = ParseModel("gpt-5")
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestConversationIDs(t *testing.T) {
	assert.Equal(t, "abc", StringID("abc").BaseKey())
	assert.Equal(t, "guild:channel", CompositeID{ID: "guild", SubID: "channel"}.BaseKey())
	assert.Equal(t, "guild", CompositeID{ID: "guild"}.BaseKey())

	a, b := NewConversationID(), NewConversationID()
	assert.NotEmpty(t, a.BaseKey())
	assert.NotEqual(t, a, b)
}
