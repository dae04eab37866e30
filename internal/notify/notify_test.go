package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/questwatch/internal/clock/system"
	"github.com/JakeFAU/questwatch/internal/config"
	"github.com/JakeFAU/questwatch/internal/quest"
)

func TestBuildKeepsConfigurationOrder(t *testing.T) {
	t.Parallel()

	sinks := []quest.Sink{
		{Name: "first", URL: "https://hooks.example.com/1"},
		{Kind: quest.SinkWebhook, URL: "https://hooks.example.com/2"},
		{Name: "third", Kind: quest.SinkWebhook, URL: "https://hooks.example.com/3"},
	}
	set, err := Build(context.Background(), sinks, config.NotifyConfig{Timeout: time.Second, PerSinkRPS: 4}, system.Clock{})
	require.NoError(t, err)
	defer func() { require.NoError(t, set.Close()) }()

	require.Len(t, set.Notifiers, 3)
	assert.Equal(t, "first", set.Notifiers[0].Name())
	assert.Equal(t, "webhook", set.Notifiers[1].Name())
	assert.Equal(t, "third", set.Notifiers[2].Name())
}

func TestBuildRejectsBadSinks(t *testing.T) {
	t.Parallel()

	cfg := config.NotifyConfig{Timeout: time.Second}
	_, err := Build(context.Background(), []quest.Sink{{Name: "x", Kind: "carrier-pigeon"}}, cfg, system.Clock{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")

	_, err = Build(context.Background(), []quest.Sink{{Name: "empty"}}, cfg, system.Clock{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
