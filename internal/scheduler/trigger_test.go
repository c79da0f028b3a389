package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

func ccdAssemblyTrigger() *Trigger {
	return NewSimpleTrigger([]string{"PostISR"}, []IDFilter{
		NewIntegerFilter("amp", "", false, intp(0), intp(16), nil),
		NewIntegerFilter("ccd", "", false, intp(0), intp(9), nil),
		NewIntegerFilter("visit", "", false, nil, nil, nil),
		NewIntegerFilter("snap", "", false, nil, nil, nil),
	})
}

func postISR(visit, ccd, snap, amp int) models.Dataset {
	return models.NewDataset("PostISR", map[string]any{
		"visit": visit, "ccd": ccd, "snap": snap, "amp": amp,
	})
}

func TestTriggerRecognize(t *testing.T) {
	trigger := ccdAssemblyTrigger()

	template, ok := trigger.Recognize(postISR(88, 3, 0, 7))
	require.True(t, ok)
	assert.True(t, template.Equal(postISR(88, 3, 0, 7)))

	// Wrong dataset type.
	raw := models.NewDataset("Raw", map[string]any{"visit": 88, "ccd": 3, "snap": 0, "amp": 7})
	_, ok = trigger.Recognize(raw)
	assert.False(t, ok)

	// amp outside [0,16).
	_, ok = trigger.Recognize(postISR(88, 3, 0, 16))
	assert.False(t, ok)

	// Missing identifier.
	partial := models.NewDataset("PostISR", map[string]any{"visit": 88, "ccd": 3, "snap": 0})
	_, ok = trigger.Recognize(partial)
	assert.False(t, ok)
}

func TestTriggerRecognizeORWithinName(t *testing.T) {
	trigger := NewSimpleTrigger([]string{"Raw"}, []IDFilter{
		NewIntegerFilter("ccd", "", false, intp(0), intp(4), nil),
		NewIntegerFilter("ccd", "", false, intp(10), intp(12), nil),
	})

	for _, ccd := range []int{0, 3, 10, 11} {
		_, ok := trigger.Recognize(models.NewDataset("Raw", map[string]any{"ccd": ccd}))
		assert.True(t, ok, "ccd=%d should match one of the ranges", ccd)
	}
	for _, ccd := range []int{4, 9, 12} {
		_, ok := trigger.Recognize(models.NewDataset("Raw", map[string]any{"ccd": ccd}))
		assert.False(t, ok, "ccd=%d should match neither range", ccd)
	}
}

func TestTriggerListDatasetsSize(t *testing.T) {
	// Closed filters with 16 amps x 2 snaps and 2 output types:
	// expect k * prod(|values_i|) = 2 * 16 * 2 datasets.
	trigger := NewSimpleTrigger([]string{"PostISR", "PostISRFlagged"}, []IDFilter{
		NewIntegerFilter("amp", "", false, intp(0), intp(16), nil),
		NewIntegerFilter("snap", "", false, intp(0), intp(2), nil),
		NewIntegerFilter("visit", "", false, nil, nil, nil),
	})

	template := models.NewDataset("PostISR", map[string]any{"visit": 88})
	datasets, err := trigger.ListDatasets(template)
	require.NoError(t, err)
	assert.Len(t, datasets, 2*16*2)

	// Every expanded dataset carries the template's open-filter value.
	for _, ds := range datasets {
		assert.Equal(t, int64(88), ds.IDs["visit"])
	}
}

func TestTriggerListDatasetsDeterministic(t *testing.T) {
	trigger := ccdAssemblyTrigger()
	template := postISR(88, 3, 0, 7)

	first, err := trigger.ListDatasets(template)
	require.NoError(t, err)
	second, err := trigger.ListDatasets(template)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Key(), second[i].Key())
	}
}

func TestTriggerListDatasetsNonClosed(t *testing.T) {
	trigger := ccdAssemblyTrigger()

	// Template missing the open "visit" identifier.
	template := models.NewDataset("PostISR", map[string]any{"snap": 0})
	_, err := trigger.ListDatasets(template)

	var nce *NonClosedSetError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, "visit", nce.ID)
}

func TestTriggerListDatasetsOutName(t *testing.T) {
	trigger := NewSimpleTrigger([]string{"CcdAssembly"}, []IDFilter{
		NewIntegerFilter("snap", "exposure", false, intp(0), intp(2), nil),
		NewIntegerFilter("visit", "", false, nil, nil, nil),
	})

	datasets, err := trigger.ListDatasets(models.NewDataset("PostISR", map[string]any{"visit": 1}))
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	for _, ds := range datasets {
		assert.Equal(t, "CcdAssembly", ds.Type)
		assert.Contains(t, ds.IDs, "exposure")
		assert.NotContains(t, ds.IDs, "snap")
	}
}

func TestTriggerStaticFilterSkippedInMatching(t *testing.T) {
	trigger := NewSimpleTrigger([]string{"Raw"}, []IDFilter{
		NewIntegerFilter("visit", "", false, nil, nil, nil),
		NewIntegerFilter("channel", "", true, intp(0), intp(4), nil),
	})

	// No channel identifier on the incoming dataset; static filters must not
	// block recognition.
	_, ok := trigger.Recognize(models.NewDataset("Raw", map[string]any{"visit": 5}))
	assert.True(t, ok)

	// But the static filter's closure still drives expansion.
	datasets, err := trigger.ListDatasets(models.NewDataset("Raw", map[string]any{"visit": 5}))
	require.NoError(t, err)
	assert.Len(t, datasets, 4)
}

func TestTriggerHandlerCountdown(t *testing.T) {
	trigger := ccdAssemblyTrigger()
	needed, err := trigger.ListDatasets(postISR(88, 3, 0, 0))
	require.NoError(t, err)
	require.Len(t, needed, 16*9)

	h := NewTriggerHandler(needed)
	assert.Equal(t, 16*9, h.Missing())
	assert.False(t, h.Ready())

	// Arrival shrinks the set; repeats do not.
	assert.True(t, h.AddDataset(postISR(88, 3, 0, 0)))
	assert.False(t, h.AddDataset(postISR(88, 3, 0, 0)))
	assert.Equal(t, 16*9-1, h.Missing())

	// An unrelated dataset is ignored.
	assert.False(t, h.AddDataset(postISR(89, 3, 0, 1)))

	for ccd := 0; ccd < 9; ccd++ {
		for amp := 0; amp < 16; amp++ {
			h.AddDataset(postISR(88, ccd, 0, amp))
		}
	}
	assert.True(t, h.Ready())
	assert.Equal(t, 0, h.Missing())
}

func TestTriggerHandlerPersistedKeysRoundTrip(t *testing.T) {
	h := NewTriggerHandler([]models.Dataset{postISR(88, 3, 0, 0), postISR(88, 3, 0, 1)})
	restored := TriggerHandlerFromKeys(h.MissingKeys())

	assert.Equal(t, h.Missing(), restored.Missing())
	assert.True(t, restored.AddDataset(postISR(88, 3, 0, 0)))
	assert.True(t, restored.AddDataset(postISR(88, 3, 0, 1)))
	assert.True(t, restored.Ready())
}
