package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/config"
)

type storeSettings struct {
	Driver  string        `env:"TEST_STORE_DRIVER" envDefault:"memory"`
	Timeout time.Duration `env:"TEST_STORE_TIMEOUT" envDefault:"5s"`
}

type requiredSettings struct {
	APIKey string `env:"TEST_REQUIRED_API_KEY,required"`
}

type fileSettings struct {
	Secret string `env:"TEST_FILE_SECRET"`
}

func TestLoad(t *testing.T) {
	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[storeSettings](nil), config.ErrNilPointer)
	})

	t.Run("parses values and caches per type", func(t *testing.T) {
		config.ResetCache()
		t.Setenv("TEST_STORE_DRIVER", "mongo")

		var cfg storeSettings
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "mongo", cfg.Driver)
		assert.Equal(t, 5*time.Second, cfg.Timeout)

		t.Setenv("TEST_STORE_DRIVER", "postgres")
		var again storeSettings
		require.NoError(t, config.Load(&again))
		assert.Equal(t, "mongo", again.Driver)

		config.ResetCache()
		require.NoError(t, config.Load(&again))
		assert.Equal(t, "postgres", again.Driver)
	})

	t.Run("missing required value", func(t *testing.T) {
		config.ResetCache()
		var cfg requiredSettings
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_FILE_SECRET=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("TEST_FILE_SECRET") })

	require.NoError(t, config.LoadEnvFiles(path))
	config.ResetCache()

	var cfg fileSettings
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-file", cfg.Secret)

	assert.ErrorIs(t, config.LoadEnvFiles(filepath.Join(dir, "missing.env")), config.ErrLoadingEnvFile)
}
