package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Policy is the per-job-office configuration. A policy file is TOML or YAML,
// chosen by extension; defaults are applied before validation.
type Policy struct {
	Name     string         `toml:"name" yaml:"name" validate:"required"`
	Persist  PersistConfig  `toml:"persist" yaml:"persist"`
	Listen   ListenConfig   `toml:"listen" yaml:"listen"`
	Schedule ScheduleConfig `toml:"schedule" yaml:"schedule"`
}

// PersistConfig locates the blackboard on disk. Dir is a path template;
// {name} and {runid} are substituted at startup.
type PersistConfig struct {
	Dir string `toml:"dir" yaml:"dir" validate:"required"`
}

// ListenConfig holds broker coordinates, topic names, and receive timeouts.
type ListenConfig struct {
	InitialWait    time.Duration `toml:"initial_wait" yaml:"initial_wait"`
	EmptyWait      time.Duration `toml:"empty_wait" yaml:"empty_wait"`
	HighWatermark  int           `toml:"high_watermark" yaml:"high_watermark" validate:"gte=1"`
	DataReadyEvent []string      `toml:"data_ready_event" yaml:"data_ready_event" validate:"min=1"`
	PipelineEvent  string        `toml:"pipeline_event" yaml:"pipeline_event" validate:"required"`
	StopEvent      string        `toml:"stop_event" yaml:"stop_event" validate:"required"`
	JobOfficeEvent string        `toml:"job_office_event" yaml:"job_office_event" validate:"required"`
	StopWait       time.Duration `toml:"stop_wait" yaml:"stop_wait"`
	BrokerHostName string        `toml:"broker_host_name" yaml:"broker_host_name" validate:"required"`
	BrokerHostPort int           `toml:"broker_host_port" yaml:"broker_host_port" validate:"gte=1,lte=65535"`
}

// ScheduleConfig selects and parameterizes the scheduler.
type ScheduleConfig struct {
	ClassName string          `toml:"class_name" yaml:"class_name" validate:"required"`
	Trigger   []TriggerConfig `toml:"trigger" yaml:"trigger" validate:"min=1"`
	Job       JobConfig       `toml:"job" yaml:"job"`
}

// JobConfig describes how matched datasets expand into a concrete job.
type JobConfig struct {
	Input    []TriggerConfig `toml:"input" yaml:"input"`
	Output   []TriggerConfig `toml:"output" yaml:"output"`
	Identity *IdentityConfig `toml:"identity" yaml:"identity"`
	Name     NameConfig      `toml:"name" yaml:"name"`
	Retries  int             `toml:"retries" yaml:"retries" validate:"gte=0"`
}

// TriggerConfig describes one trigger: which dataset types it covers and the
// per-identifier filters (OR within a name, AND across names).
type TriggerConfig struct {
	ClassName   string           `toml:"class_name" yaml:"class_name"`
	DatasetType []string         `toml:"dataset_type" yaml:"dataset_type"`
	ID          []IDFilterConfig `toml:"id" yaml:"id"`
}

// IDFilterConfig describes one identifier filter.
type IDFilterConfig struct {
	ClassName string `toml:"class_name" yaml:"class_name"`
	Name      string `toml:"name" yaml:"name" validate:"required"`
	OutName   string `toml:"out_name" yaml:"out_name"`
	Static    bool   `toml:"static" yaml:"static"`
	Min       *int64 `toml:"min" yaml:"min"`
	Lim       *int64 `toml:"lim" yaml:"lim"`
	Values    []any  `toml:"value" yaml:"value"`
}

// IdentityConfig shapes the synthetic dataset that names a job.
type IdentityConfig struct {
	TemplateType string   `toml:"template_type" yaml:"template_type"`
	Type         string   `toml:"type" yaml:"type"`
	ID           []string `toml:"id" yaml:"id"`
}

// NameConfig controls job naming: a substitution template with fallback to
// "<default>-<counter>".
type NameConfig struct {
	Default     string `toml:"default" yaml:"default"`
	Template    string `toml:"template" yaml:"template"`
	InitCounter int    `toml:"init_counter" yaml:"init_counter"`
}

// LoadPolicy reads, defaults, and validates a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q (want .toml or .yaml)", ext)
	}

	policy.ApplyDefaults()

	if err := validator.New().Struct(&policy); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return &policy, nil
}

// ApplyDefaults fills unset fields with workable values.
func (p *Policy) ApplyDefaults() {
	if p.Persist.Dir == "" {
		p.Persist.Dir = filepath.Join(".", "{name}")
	}
	if p.Listen.InitialWait == 0 {
		p.Listen.InitialWait = 10 * time.Second
	}
	if p.Listen.HighWatermark == 0 {
		p.Listen.HighWatermark = 10
	}
	if p.Listen.StopWait == 0 {
		p.Listen.StopWait = 60 * time.Second
	}
	if p.Listen.BrokerHostName == "" {
		p.Listen.BrokerHostName = "localhost"
	}
	if p.Listen.BrokerHostPort == 0 {
		p.Listen.BrokerHostPort = 6379
	}
	if p.Schedule.ClassName == "" {
		p.Schedule.ClassName = "DataTriggered"
	}
	if p.Schedule.Job.Name.Default == "" {
		p.Schedule.Job.Name.Default = "Job"
	}
	if p.Schedule.Job.Name.InitCounter == 0 {
		p.Schedule.Job.Name.InitCounter = 1
	}
}

// PersistRoot resolves the persist.dir template for a given run.
func (p *Policy) PersistRoot(runID string) string {
	dir := strings.ReplaceAll(p.Persist.Dir, "{name}", p.Name)
	dir = strings.ReplaceAll(dir, "{runid}", runID)
	return dir
}

// BrokerAddr renders the broker host:port pair.
func (p *Policy) BrokerAddr() string {
	return fmt.Sprintf("%s:%d", p.Listen.BrokerHostName, p.Listen.BrokerHostPort)
}
