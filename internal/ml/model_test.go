package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel(t *testing.T) {
	model, err := NewModel("openai", ProviderSettings{APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIModel{}, model)

	model, err = NewModel("google", ProviderSettings{})
	require.NoError(t, err)
	assert.IsType(t, &GoogleModel{}, model)

	_, err = NewModel("local", ProviderSettings{})
	assert.Error(t, err)
}

func TestNewModel_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openai.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"base_url": "http://proxy.local/v1/"}`), 0o600))

	model, err := NewModel("openai", ProviderSettings{ConfigPath: path, APIKey: "k"})
	require.NoError(t, err)
	cfg := model.(*OpenAIModel).config
	assert.Equal(t, "http://proxy.local/v1/", cfg.BaseURL)
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, DefaultVisionPath, cfg.VisionPath)

	_, err = NewModel("openai", ProviderSettings{ConfigPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err, "an explicit config path must exist")
}

func TestNewModel_ServiceSettingsWinOverProviderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openai.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key": "file-key", "base_url": "http://file.local/v1/"}`), 0o600))

	model, err := NewModel("openai", ProviderSettings{ConfigPath: path, APIKey: "service-key", BaseURL: "http://service.local/v1/"})
	require.NoError(t, err)
	cfg := model.(*OpenAIModel).config
	assert.Equal(t, "service-key", cfg.APIKey)
	assert.Equal(t, "http://service.local/v1/", cfg.BaseURL)

	model, err = NewModel("openai", ProviderSettings{ConfigPath: path})
	require.NoError(t, err)
	cfg = model.(*OpenAIModel).config
	assert.Equal(t, "file-key", cfg.APIKey, "empty settings leave the file in charge")
	assert.Equal(t, "http://file.local/v1/", cfg.BaseURL)
	assert.Error(t, err, "an explicit config path must exist")
}
