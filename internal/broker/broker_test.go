package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// brokerUnderTest runs the same contract checks against every implementation.
func brokerUnderTest(t *testing.T, b Broker) {
	t.Helper()
	ctx := context.Background()

	t.Run("selector filtering", func(t *testing.T) {
		sub, err := b.Subscribe("pipelineEvents", "RUNID='run-1' and STATUS='job:done'")
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, b.Publish(ctx, "pipelineEvents", models.NewStatusEvent("run-1", 1, models.StatusJobReady)))
		require.NoError(t, b.Publish(ctx, "pipelineEvents", models.NewStatusEvent("run-2", 2, models.StatusJobDone)))
		require.NoError(t, b.Publish(ctx, "pipelineEvents", models.NewStatusEvent("run-1", 3, models.StatusJobDone)))

		ev, err := sub.Receive(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(3), ev.OriginatorID)

		_, err = sub.Receive(0)
		assert.ErrorIs(t, err, ErrNoEvent)
	})

	t.Run("independent subscriptions", func(t *testing.T) {
		first, err := b.Subscribe("dataReady", "")
		require.NoError(t, err)
		defer first.Close()
		second, err := b.Subscribe("dataReady", "")
		require.NoError(t, err)
		defer second.Close()

		require.NoError(t, b.Publish(ctx, "dataReady", models.NewStatusEvent("run-1", 9, models.StatusDataReady)))

		evA, err := first.Receive(2 * time.Second)
		require.NoError(t, err)
		evB, err := second.Receive(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, evA.OriginatorID, evB.OriginatorID)
	})

	t.Run("payload survives transport", func(t *testing.T) {
		sub, err := b.Subscribe("assign", "")
		require.NoError(t, err)
		defer sub.Close()

		inputs := []models.Dataset{
			models.NewDataset("PostISR", map[string]any{"visit": 88, "amp": 0}),
		}
		out := models.NewCommandEvent("run-1", 42, 7, models.StatusJobAssign)
		out.SetProp(models.PropJobName, "Job-1")
		out.SetDatasets(models.PropInputs, inputs)
		require.NoError(t, b.Publish(ctx, "assign", out))

		ev, err := sub.Receive(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "Job-1", ev.StringProp(models.PropJobName))
		got, err := ev.Datasets(models.PropInputs)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, inputs[0].Equal(got[0]))
	})

	t.Run("receive timeout", func(t *testing.T) {
		sub, err := b.Subscribe("silence", "")
		require.NoError(t, err)
		defer sub.Close()

		start := time.Now()
		_, err = sub.Receive(50 * time.Millisecond)
		assert.ErrorIs(t, err, ErrNoEvent)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestMemoryBroker(t *testing.T) {
	b := NewMemoryBroker(testLogger())
	defer b.Close()
	brokerUnderTest(t, b)
}

func TestMemoryBrokerDeliversIndependentCopies(t *testing.T) {
	b := NewMemoryBroker(testLogger())
	defer b.Close()
	ctx := context.Background()

	first, err := b.Subscribe("dataReady", "")
	require.NoError(t, err)
	defer first.Close()
	second, err := b.Subscribe("dataReady", "")
	require.NoError(t, err)
	defer second.Close()

	ev := models.NewStatusEvent("run-1", 1, models.StatusDataReady)
	ev.SetProp(models.PropSuccess, true)
	require.NoError(t, b.Publish(ctx, "dataReady", ev))

	got, err := first.Receive(time.Second)
	require.NoError(t, err)
	got.SetProp(models.PropSuccess, false)

	// One receiver's mutation must not leak into the other's copy or into
	// the published event.
	other, err := second.Receive(time.Second)
	require.NoError(t, err)
	assert.True(t, other.BoolProp(models.PropSuccess, false))
	assert.True(t, ev.BoolProp(models.PropSuccess, false))
}

func TestRedisBroker(t *testing.T) {
	srv := miniredis.RunT(t)

	b, err := NewRedisBroker(srv.Addr(), testLogger())
	require.NoError(t, err)
	defer b.Close()
	brokerUnderTest(t, b)
}

func TestRedisBrokerSubscribeSeesOnlyNewEvents(t *testing.T) {
	srv := miniredis.RunT(t)
	b, err := NewRedisBroker(srv.Addr(), testLogger())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "t", models.NewStatusEvent("run-1", 1, "old")))

	sub, err := b.Subscribe("t", "")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "t", models.NewStatusEvent("run-1", 2, "new")))

	ev, err := sub.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "new", ev.Status)
}
