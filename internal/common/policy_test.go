package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

const tomlPolicy = `
name = "ccdassembly"

[persist]
dir = "/data/{name}/{runid}"

[listen]
initial_wait = "2s"
empty_wait = "100ms"
high_watermark = 20
data_ready_event = ["ccdAvailable"]
pipeline_event = "ccdPipelineEvent"
stop_event = "stopEvent"
job_office_event = "ccdJobOfficeEvent"
broker_host_name = "broker.example.org"
broker_host_port = 6379

[schedule]
class_name = "DataTriggered"

[[schedule.trigger]]
dataset_type = ["PostISR"]

[[schedule.trigger.id]]
name = "amp"
min = 0
lim = 16

[[schedule.trigger.id]]
name = "visit"

[schedule.job.name]
default = "Job"
init_counter = 1

[schedule.job]
retries = 2
`

func TestLoadPolicyTOML(t *testing.T) {
	path := writePolicy(t, "policy.toml", tomlPolicy)
	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, "ccdassembly", policy.Name)
	assert.Equal(t, 2*time.Second, policy.Listen.InitialWait)
	assert.Equal(t, 100*time.Millisecond, policy.Listen.EmptyWait)
	assert.Equal(t, 20, policy.Listen.HighWatermark)
	assert.Equal(t, []string{"ccdAvailable"}, policy.Listen.DataReadyEvent)
	assert.Equal(t, "broker.example.org:6379", policy.BrokerAddr())
	assert.Equal(t, 2, policy.Schedule.Job.Retries)

	require.Len(t, policy.Schedule.Trigger, 1)
	trigger := policy.Schedule.Trigger[0]
	assert.Equal(t, []string{"PostISR"}, trigger.DatasetType)
	require.Len(t, trigger.ID, 2)
	require.NotNil(t, trigger.ID[0].Min)
	assert.Equal(t, int64(0), *trigger.ID[0].Min)
	require.NotNil(t, trigger.ID[0].Lim)
	assert.Equal(t, int64(16), *trigger.ID[0].Lim)
	assert.Nil(t, trigger.ID[1].Min)

	assert.Equal(t, "/data/ccdassembly/run-9", policy.PersistRoot("run-9"))
}

const yamlPolicy = `
name: ccdassembly
persist:
  dir: "{name}-data"
listen:
  data_ready_event: [ccdAvailable]
  pipeline_event: ccdPipelineEvent
  stop_event: stopEvent
  job_office_event: ccdJobOfficeEvent
schedule:
  trigger:
    - dataset_type: [PostISR]
      id:
        - name: amp
          min: 0
          lim: 16
`

func TestLoadPolicyYAMLWithDefaults(t *testing.T) {
	path := writePolicy(t, "policy.yaml", yamlPolicy)
	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	// Unset fields pick up defaults.
	assert.Equal(t, 10*time.Second, policy.Listen.InitialWait)
	assert.Equal(t, 10, policy.Listen.HighWatermark)
	assert.Equal(t, "localhost:6379", policy.BrokerAddr())
	assert.Equal(t, "DataTriggered", policy.Schedule.ClassName)
	assert.Equal(t, "Job", policy.Schedule.Job.Name.Default)
	assert.Equal(t, 1, policy.Schedule.Job.Name.InitCounter)
}

func TestLoadPolicyRejectsMissingFields(t *testing.T) {
	path := writePolicy(t, "policy.yaml", "persist:\n  dir: data\n")
	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicyRejectsUnknownExtension(t *testing.T) {
	path := writePolicy(t, "policy.json", "{}")
	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
