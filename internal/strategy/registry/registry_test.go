package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_TestdataSample(t *testing.T) {
	reg, err := Load("testdata")
	require.NoError(t, err)

	entry, ok := reg.Get("sample_strategy")
	require.True(t, ok)
	assert.Equal(t, "Sample Strategy", entry.Definition.Name)
	assert.Len(t, entry.Definition.Schema, 2)
	assert.InDelta(t, 55, entry.MinScoreDefault, 1e-9)
}

func TestLoad_UnknownIDMisses(t *testing.T) {
	reg, err := Load("testdata")
	require.NoError(t, err)
	_, ok := reg.Get("does_not_exist")
	assert.False(t, ok)
}

func TestLoad_ConfigStrategiesDirectory(t *testing.T) {
	reg, err := Load("../../../config/strategies")
	require.NoError(t, err)

	for _, id := range []string{
		"blue_chip_stable", "momentum_breakout", "high_dividend_value", "growth_at_reasonable_price",
	} {
		_, ok := reg.Get(id)
		assert.True(t, ok, "expected registry entry %q", id)
	}
	assert.Len(t, reg.List(), 4)
}
