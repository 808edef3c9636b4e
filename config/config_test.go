package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	m, err := NewManagerWithFs(afero.NewMemMapFs(), "/cfg")
	require.NoError(t, err)

	settings, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "original", settings.PreferredAudio)
	assert.Equal(t, DefaultPageSize, settings.PageSize)
	assert.Empty(t, settings.Email)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := NewManagerWithFs(fs, "/cfg")
	require.NoError(t, err)

	in := Settings{
		Email:             "viewer@example.com",
		Password:          "hunter2",
		PreferredAudio:    "en-US",
		PreferredSubtitle: "de-DE",
		PageSize:          50,
	}
	require.NoError(t, m.Save(in))

	out, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadRepairsInvalidPageSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := NewManagerWithFs(fs, "/cfg")
	require.NoError(t, err)

	require.NoError(t, m.Save(Settings{PageSize: -5}))
	out, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, out.PageSize)
	assert.Equal(t, "original", out.PreferredAudio)
}

func TestNewManagerRequiresDir(t *testing.T) {
	_, err := NewManagerWithFs(afero.NewMemMapFs(), "")
	assert.Error(t, err)
}
