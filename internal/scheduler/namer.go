package scheduler

import (
	"fmt"
	"regexp"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

var namerKeyPattern = regexp.MustCompile(`\{([A-Za-z0-9_.-]+)\}`)

// JobNamer produces job names from an identity dataset. A configured template
// substitutes {type} and {<id-name>} references; any missing key falls back to
// "<default>-<counter>". The counter is monotone within a process only.
type JobNamer struct {
	template string
	fallback string
	counter  int
}

// NewJobNamer builds a namer from the policy's name record.
func NewJobNamer(cfg common.NameConfig) *JobNamer {
	def := cfg.Default
	if def == "" {
		def = "Job"
	}
	counter := cfg.InitCounter
	if counter == 0 {
		counter = 1
	}
	return &JobNamer{template: cfg.Template, fallback: def, counter: counter}
}

// Name returns the next job name for the given identity.
func (n *JobNamer) Name(identity models.Dataset) string {
	if n.template != "" {
		name, ok := substitute(n.template, identity)
		if ok {
			return name
		}
	}
	name := fmt.Sprintf("%s-%d", n.fallback, n.counter)
	n.counter++
	return name
}

func substitute(template string, identity models.Dataset) (string, bool) {
	complete := true
	result := namerKeyPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if key == "type" {
			return identity.Type
		}
		if v, ok := identity.IDs[key]; ok {
			return models.FormatScalar(v)
		}
		complete = false
		return match
	})
	return result, complete
}
