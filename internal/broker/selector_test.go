package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

func TestParseSelectorEquality(t *testing.T) {
	sel, err := ParseSelector("RUNID='run-1' and STATUS='job:done'")
	require.NoError(t, err)

	done := models.NewStatusEvent("run-1", 7, models.StatusJobDone)
	assert.True(t, sel.Matches(done.Headers()))

	otherRun := models.NewStatusEvent("run-2", 7, models.StatusJobDone)
	assert.False(t, sel.Matches(otherRun.Headers()))

	otherStatus := models.NewStatusEvent("run-1", 7, models.StatusJobReady)
	assert.False(t, sel.Matches(otherStatus.Headers()))
}

func TestParseSelectorInList(t *testing.T) {
	sel, err := ParseSelector("RUNID='run-1' and STATUS in ('job:ready', 'job:done', 'job:accepted')")
	require.NoError(t, err)

	for _, status := range []string{models.StatusJobReady, models.StatusJobDone, models.StatusJobAccepted} {
		ev := models.NewStatusEvent("run-1", 1, status)
		assert.True(t, sel.Matches(ev.Headers()), status)
	}
	assign := models.NewStatusEvent("run-1", 1, models.StatusJobAssign)
	assert.False(t, sel.Matches(assign.Headers()))
}

func TestParseSelectorNumericField(t *testing.T) {
	sel, err := ParseSelector("STATUS='job:assign' and DESTINATIONID=7")
	require.NoError(t, err)

	mine := models.NewCommandEvent("run-1", 1, 7, models.StatusJobAssign)
	assert.True(t, sel.Matches(mine.Headers()))

	other := models.NewCommandEvent("run-1", 1, 8, models.StatusJobAssign)
	assert.False(t, sel.Matches(other.Headers()))
}

func TestParseSelectorEmpty(t *testing.T) {
	sel, err := ParseSelector("")
	require.NoError(t, err)
	ev := models.NewStatusEvent("any", 0, "anything")
	assert.True(t, sel.Matches(ev.Headers()))
}

func TestParseSelectorQuotedAnd(t *testing.T) {
	// ' and ' inside a string literal is not a conjunction.
	sel, err := ParseSelector("RUNID='this and that'")
	require.NoError(t, err)
	ev := models.NewStatusEvent("this and that", 0, "x")
	assert.True(t, sel.Matches(ev.Headers()))
}

func TestParseSelectorErrors(t *testing.T) {
	for _, text := range []string{
		"RUNID",
		"RUNID='unterminated",
		"STATUS in ()",
		"STATUS in 'job:done'",
		"RUNID=not-a-number",
	} {
		_, err := ParseSelector(text)
		assert.Error(t, err, text)
	}
}
