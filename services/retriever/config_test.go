package retriever

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()

	require.Equal(t, 18, c.RateCeiling)
	require.Equal(t, time.Minute, c.RateWindow())
	require.Equal(t, 3000, c.DelayMinMs)
	require.Equal(t, 7000, c.DelayMaxMs)
	require.Equal(t, 1000, c.MaxDocuments)
	require.Equal(t, 50, c.MaxPages)
	require.Equal(t, DedupeIDPrefix, c.DedupeStrategy)
}

func TestConfigDedupeStrategyPreserved(t *testing.T) {
	c := Config{DedupeStrategy: DedupeOff}
	c.ApplyDefaults()
	require.Equal(t, DedupeOff, c.DedupeStrategy)
}
