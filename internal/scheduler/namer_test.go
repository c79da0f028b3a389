package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

func TestJobNamerTemplate(t *testing.T) {
	n := NewJobNamer(common.NameConfig{
		Default:  "Job",
		Template: "{type}-v{visit}-c{ccd}",
	})

	identity := models.NewDataset("CcdAssembly", map[string]any{"visit": 88, "ccd": 3})
	assert.Equal(t, "CcdAssembly-v88-c3", n.Name(identity))
}

func TestJobNamerFallbackCounter(t *testing.T) {
	n := NewJobNamer(common.NameConfig{Default: "Job", InitCounter: 1})

	identity := models.NewDataset("CcdAssembly", nil)
	assert.Equal(t, "Job-1", n.Name(identity))
	assert.Equal(t, "Job-2", n.Name(identity))
}

func TestJobNamerTemplateMissingKeyFallsBack(t *testing.T) {
	n := NewJobNamer(common.NameConfig{
		Default:     "Job",
		Template:    "{type}-v{visit}",
		InitCounter: 5,
	})

	// Identity has no visit; template cannot complete.
	identity := models.NewDataset("CcdAssembly", map[string]any{"ccd": 3})
	assert.Equal(t, "Job-5", n.Name(identity))

	// The counter keeps moving on repeated fallbacks.
	assert.Equal(t, "Job-6", n.Name(identity))

	// A complete identity does not consume the counter.
	full := models.NewDataset("CcdAssembly", map[string]any{"visit": 88})
	assert.Equal(t, "CcdAssembly-v88", n.Name(full))
	assert.Equal(t, "Job-7", n.Name(identity))
}
