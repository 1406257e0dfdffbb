package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SetsDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, Load(v))

	c := Get()
	assert.Equal(t, "0.1", c.Version)
	assert.True(t, c.Worker.Enabled)
	assert.Equal(t, 4, c.Worker.PoolSize)
	assert.Equal(t, "json", c.Output.Format)
	assert.Equal(t, int64(1), c.Simulate.Seed)
	assert.Equal(t, 200, c.Simulate.Events)
	assert.Equal(t, "info", c.Logging.Level)
}

func TestLoad_RejectsNonStringVersion(t *testing.T) {
	v := viper.New()
	v.Set("version", 42)
	assert.Error(t, Load(v))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("worker.pool_size", 8)
	v.Set("simulate.paste_chance", 0.2)
	require.NoError(t, Load(v))

	c := Get()
	assert.Equal(t, 8, c.Worker.PoolSize)
	assert.InDelta(t, 0.2, c.Simulate.PasteChance, 0.0001)
}
