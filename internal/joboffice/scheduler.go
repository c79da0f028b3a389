package joboffice

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/blackboard"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/scheduler"
)

// JobScheduler turns dataset announcements into jobs on the blackboard. Both
// methods run inside a caller-provided blackboard transaction.
type JobScheduler interface {
	// ProcessDataset records an announcement and either feeds it to a
	// forming job or creates a new one. Returns false when no trigger is
	// interested. A nil success defaults to the dataset's validity flag.
	ProcessDataset(tx *blackboard.Tx, ds models.Dataset, success *bool) (bool, error)

	// MakeJobsAvailable promotes every fully-formed job from jobsPossible
	// to jobsAvailable, preserving relative order. Returns the number
	// promoted.
	MakeJobsAvailable(tx *blackboard.Tx) (int, error)
}

// NewScheduler builds the configured scheduler variant. Unknown class names
// are a configuration error.
func NewScheduler(cfg common.ScheduleConfig, logger arbor.ILogger) (JobScheduler, error) {
	base, err := newSchedulerBase(cfg, logger)
	if err != nil {
		return nil, err
	}
	switch cfg.ClassName {
	case "", "DataTriggered":
		return &DataTriggeredScheduler{schedulerBase: base}, nil
	case "ButlerTriggered":
		return &ButlerTriggeredScheduler{schedulerBase: base}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler class %q", cfg.ClassName)
	}
}

// schedulerBase holds the configuration shared by both scheduler variants.
type schedulerBase struct {
	triggers       []*scheduler.Trigger
	inputTriggers  []*scheduler.Trigger
	outputTriggers []*scheduler.Trigger
	identity       *common.IdentityConfig
	namer          *scheduler.JobNamer
	retries        int
	logger         arbor.ILogger
}

func newSchedulerBase(cfg common.ScheduleConfig, logger arbor.ILogger) (schedulerBase, error) {
	base := schedulerBase{
		identity: cfg.Job.Identity,
		namer:    scheduler.NewJobNamer(cfg.Job.Name),
		retries:  cfg.Job.Retries,
		logger:   logger,
	}
	var err error
	if base.triggers, err = buildTriggers(cfg.Trigger); err != nil {
		return base, fmt.Errorf("bad trigger: %w", err)
	}
	if len(base.triggers) == 0 {
		return base, fmt.Errorf("scheduler needs at least one trigger")
	}
	if base.inputTriggers, err = buildTriggers(cfg.Job.Input); err != nil {
		return base, fmt.Errorf("bad job input trigger: %w", err)
	}
	if base.outputTriggers, err = buildTriggers(cfg.Job.Output); err != nil {
		return base, fmt.Errorf("bad job output trigger: %w", err)
	}
	return base, nil
}

func buildTriggers(cfgs []common.TriggerConfig) ([]*scheduler.Trigger, error) {
	out := make([]*scheduler.Trigger, 0, len(cfgs))
	for _, cfg := range cfgs {
		t, err := scheduler.NewTrigger(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// recognize finds the first interested trigger.
func (s *schedulerBase) recognize(ds models.Dataset) (*scheduler.Trigger, models.Dataset, bool) {
	for _, t := range s.triggers {
		if template, ok := t.Recognize(ds); ok {
			return t, template, true
		}
	}
	return nil, models.Dataset{}, false
}

// expand lists the datasets implied by the template across a trigger list.
func expand(triggers []*scheduler.Trigger, template models.Dataset) ([]models.Dataset, error) {
	var out []models.Dataset
	for _, t := range triggers {
		datasets, err := t.ListDatasets(template)
		if err != nil {
			return nil, err
		}
		out = append(out, datasets...)
	}
	return out, nil
}

// jobIdentity applies the identity rule: pick a template dataset (preferring
// the configured template type among outputs, then inputs, then the first
// output or input), optionally override its type and restrict its IDs.
func (s *schedulerBase) jobIdentity(inputs, outputs []models.Dataset) models.Dataset {
	template, ok := s.templateDataset(inputs, outputs)
	if !ok {
		return models.NewDataset("unknown", nil)
	}

	identity := models.NewDataset(template.Type, nil)
	if s.identity != nil && s.identity.Type != "" {
		identity.Type = s.identity.Type
	}
	if s.identity != nil && len(s.identity.ID) > 0 {
		for _, name := range s.identity.ID {
			if v, ok := template.IDs[name]; ok {
				identity.IDs[name] = v
			}
		}
	} else {
		for name, v := range template.IDs {
			identity.IDs[name] = v
		}
	}
	return identity
}

func (s *schedulerBase) templateDataset(inputs, outputs []models.Dataset) (models.Dataset, bool) {
	if s.identity != nil && s.identity.TemplateType != "" {
		for _, ds := range outputs {
			if ds.Type == s.identity.TemplateType {
				return ds, true
			}
		}
		for _, ds := range inputs {
			if ds.Type == s.identity.TemplateType {
				return ds, true
			}
		}
	}
	if len(outputs) > 0 {
		return outputs[0], true
	}
	if len(inputs) > 0 {
		return inputs[0], true
	}
	return models.Dataset{}, false
}

// formJob builds a fully-specified job item for a freshly matched template.
func (s *schedulerBase) formJob(trigger *scheduler.Trigger, template, first, identity models.Dataset, inputs, outputs []models.Dataset) (*blackboard.JobItem, error) {
	needed, err := trigger.ListDatasets(template)
	if err != nil {
		return nil, err
	}
	handler := scheduler.NewTriggerHandler(needed)
	handler.AddDataset(first)

	name := s.namer.Name(identity)
	job := blackboard.NewJobItem(name, identity, inputs, outputs, handler, s.retries)

	s.logger.Info().
		Str("job", name).
		Str("identity", identity.Key()).
		Int("inputs", len(inputs)).
		Int("outputs", len(outputs)).
		Int("missing", handler.Missing()).
		Msg("New job formed")
	return job, nil
}

// MakeJobsAvailable is shared by both variants.
func (s *schedulerBase) MakeJobsAvailable(tx *blackboard.Tx) (int, error) {
	promoted := 0
	i := 0
	for i < tx.JobsPossible().Length() {
		job, err := tx.JobsPossible().Get(i)
		if err != nil {
			return promoted, err
		}
		if !job.Handler().Ready() {
			i++
			continue
		}
		if _, err := blackboard.MoveJob(tx.JobsPossible(), tx.JobsAvailable(), i); err != nil {
			return promoted, err
		}
		promoted++
		s.logger.Debug().
			Str("job", job.JobName).
			Msg("Job promoted to available")
	}
	return promoted, nil
}

// DataTriggeredScheduler forms one job per first-matching announcement and
// feeds later announcements to already-forming jobs. A repeat of a dataset a
// forming job already consumed is absorbed, not a new job.
type DataTriggeredScheduler struct {
	schedulerBase
}

func (s *DataTriggeredScheduler) ProcessDataset(tx *blackboard.Tx, ds models.Dataset, success *bool) (bool, error) {
	trigger, template, ok := s.recognize(ds)
	if !ok {
		return false, nil
	}
	ok = ds.Valid
	if success != nil {
		ok = *success
	}
	if err := tx.DataAvailable().Append(blackboard.NewDataProductItem(ds, ok)); err != nil {
		return false, err
	}

	needed := false
	possible := tx.JobsPossible()
	for i := 0; i < possible.Length(); i++ {
		job, err := possible.Get(i)
		if err != nil {
			return false, err
		}
		if job.Handler().AddDataset(ds) {
			needed = true
			if err := possible.Update(i); err != nil {
				return false, err
			}
		}
	}
	if needed {
		return true, nil
	}

	inputs, err := expand(s.inputTriggers, template)
	if err != nil {
		return false, err
	}
	outputs, err := expand(s.outputTriggers, template)
	if err != nil {
		return false, err
	}
	candidate := s.jobIdentity(inputs, outputs)
	for i := 0; i < possible.Length(); i++ {
		job, err := possible.Get(i)
		if err != nil {
			return false, err
		}
		if job.Identity.Equal(candidate) {
			// Repeat of a dataset this job already consumed.
			s.logger.Debug().
				Str("dataset", ds.Key()).
				Str("job", job.JobName).
				Msg("Duplicate announcement for forming job, ignoring")
			return true, nil
		}
	}

	job, err := s.formJob(trigger, template, ds, candidate, inputs, outputs)
	if err != nil {
		return false, err
	}
	return true, possible.Append(job)
}

// ButlerTriggeredScheduler matches announcements to forming jobs by identity
// equality instead of by receipt-tracking alone: each matched announcement
// names a candidate job, and the dataset joins that job or founds it.
type ButlerTriggeredScheduler struct {
	schedulerBase
}

func (s *ButlerTriggeredScheduler) ProcessDataset(tx *blackboard.Tx, ds models.Dataset, success *bool) (bool, error) {
	trigger, template, ok := s.recognize(ds)
	if !ok {
		return false, nil
	}
	ok = ds.Valid
	if success != nil {
		ok = *success
	}
	if err := tx.DataAvailable().Append(blackboard.NewDataProductItem(ds, ok)); err != nil {
		return false, err
	}

	inputs, err := expand(s.inputTriggers, template)
	if err != nil {
		return false, err
	}
	outputs, err := expand(s.outputTriggers, template)
	if err != nil {
		return false, err
	}
	candidate := s.jobIdentity(inputs, outputs)

	possible := tx.JobsPossible()
	for i := 0; i < possible.Length(); i++ {
		job, err := possible.Get(i)
		if err != nil {
			return false, err
		}
		if !job.Identity.Equal(candidate) {
			continue
		}
		if job.Handler().AddDataset(ds) {
			if err := possible.Update(i); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	job, err := s.formJob(trigger, template, ds, candidate, inputs, outputs)
	if err != nil {
		return false, err
	}
	return true, possible.Append(job)
}
