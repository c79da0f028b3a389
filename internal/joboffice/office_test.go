package joboffice

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/blackboard"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/broker"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

const (
	testRunID      = "run-1"
	officeOrigin   = int64(1)
	pipelineOrigin = int64(7)
)

func testPolicy(className string) *common.Policy {
	return &common.Policy{
		Name:    "ccdassembly",
		Persist: common.PersistConfig{Dir: "{name}"},
		Listen: common.ListenConfig{
			InitialWait:    50 * time.Millisecond,
			EmptyWait:      10 * time.Millisecond,
			HighWatermark:  32,
			DataReadyEvent: []string{"dataReady"},
			PipelineEvent:  "pipelineEvent",
			StopEvent:      "stopEvent",
			JobOfficeEvent: "jobOfficeEvent",
			StopWait:       50 * time.Millisecond,
			BrokerHostName: "localhost",
			BrokerHostPort: 6379,
		},
		Schedule: ccdAssemblySchedule(className),
	}
}

type officeFixture struct {
	policy *common.Policy
	bb     *blackboard.Blackboard
	brk    *broker.MemoryBroker
	office *Office
}

func startOffice(t *testing.T, className string) *officeFixture {
	t.Helper()
	policy := testPolicy(className)
	bb := openTestBlackboard(t)
	brk := broker.NewMemoryBroker(testLogger())
	t.Cleanup(func() { brk.Close() })

	office, err := New(policy, testRunID, officeOrigin, bb, brk, testLogger())
	require.NoError(t, err)
	office.Start()
	t.Cleanup(func() {
		office.Stop()
		office.Join()
	})
	return &officeFixture{policy: policy, bb: bb, brk: brk, office: office}
}

func (f *officeFixture) announceAll(t *testing.T, ccd, visit int) {
	t.Helper()
	ctx := context.Background()
	for amp := 0; amp < 16; amp++ {
		ev := models.NewStatusEvent(testRunID, 100, models.StatusDataReady)
		ev.SetDatasets(models.PropDataset, []models.Dataset{postISR(amp, ccd, visit)})
		require.NoError(t, f.brk.Publish(ctx, "dataReady", ev))
	}
}

func (f *officeFixture) pipelineReady(t *testing.T, origin int64) {
	t.Helper()
	ev := models.NewStatusEvent(testRunID, origin, models.StatusJobReady)
	ev.SetProp(models.PropPipelineName, "ccdpipe")
	require.NoError(t, f.brk.Publish(context.Background(), "pipelineEvent", ev))
}

func (f *officeFixture) jobDone(t *testing.T, origin int64, success bool) {
	t.Helper()
	ev := models.NewStatusEvent(testRunID, origin, models.StatusJobDone)
	ev.SetProp(models.PropSuccess, success)
	require.NoError(t, f.brk.Publish(context.Background(), "pipelineEvent", ev))
}

// assignSub subscribes to assignment commands before any are published.
func (f *officeFixture) assignSub(t *testing.T) broker.Subscription {
	t.Helper()
	sub, err := f.brk.Subscribe("pipelineEvent",
		fmt.Sprintf("%s='%s' and %s='%s'",
			models.FieldRunID, testRunID, models.FieldStatus, models.StatusJobAssign))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOfficeFormsAndAssignsJob(t *testing.T) {
	f := startOffice(t, "DataTriggered")
	assign := f.assignSub(t)

	f.announceAll(t, 3, 88)
	f.pipelineReady(t, pipelineOrigin)

	ev, err := assign.Receive(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.KindCommand, ev.Kind)
	assert.Equal(t, pipelineOrigin, ev.DestinationID)
	assert.Equal(t, "Job-1", ev.StringProp(models.PropJobName))
	inputs, err := ev.Datasets(models.PropInputs)
	require.NoError(t, err)
	assert.Len(t, inputs, 16)
	outputs, err := ev.Datasets(models.PropOutputs)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "CcdAssembly", outputs[0].Type)

	waitFor(t, "job in progress", func() bool {
		return f.bb.Counts()[blackboard.QueueJobsInProgress] == 1
	})
	f.bb.View(func(tx *blackboard.Tx) {
		job, err := tx.JobsInProgress().Head()
		require.NoError(t, err)
		assert.Equal(t, pipelineOrigin, job.PipelineID)
	})
}

func TestOfficeCompletesJobAndHalts(t *testing.T) {
	f := startOffice(t, "DataTriggered")
	assign := f.assignSub(t)

	f.announceAll(t, 3, 88)
	f.pipelineReady(t, pipelineOrigin)
	_, err := assign.Receive(10 * time.Second)
	require.NoError(t, err)

	f.jobDone(t, pipelineOrigin, true)
	waitFor(t, "job done", func() bool {
		return f.bb.Counts()[blackboard.QueueJobsDone] == 1
	})
	f.bb.View(func(tx *blackboard.Tx) {
		job, err := tx.JobsDone().Head()
		require.NoError(t, err)
		assert.True(t, job.Succeeded)
	})

	final := models.NewStatusEvent(testRunID, 100, models.StatusFinalDataset)
	require.NoError(t, f.brk.Publish(context.Background(), "jobOfficeEvent", final))

	waitFor(t, "office halt", func() bool { return !f.office.IsAlive() })
	assert.NoError(t, f.office.Join())
}

func TestOfficeRetriesFailedJob(t *testing.T) {
	f := startOffice(t, "DataTriggered")
	assign := f.assignSub(t)

	f.announceAll(t, 3, 88)
	f.pipelineReady(t, pipelineOrigin)
	_, err := assign.Receive(10 * time.Second)
	require.NoError(t, err)

	// First failure consumes the single retry and requeues the job.
	f.jobDone(t, pipelineOrigin, false)
	waitFor(t, "job requeued", func() bool {
		return f.bb.Counts()[blackboard.QueueJobsAvailable] == 1
	})

	other := int64(8)
	f.pipelineReady(t, other)
	ev, err := assign.Receive(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, other, ev.DestinationID)
	assert.Equal(t, "Job-1", ev.StringProp(models.PropJobName))

	// Second failure exhausts retries.
	waitFor(t, "job back in progress", func() bool {
		return f.bb.Counts()[blackboard.QueueJobsInProgress] == 1
	})
	f.jobDone(t, other, false)
	waitFor(t, "job failed for good", func() bool {
		return f.bb.Counts()[blackboard.QueueJobsDone] == 1
	})
	f.bb.View(func(tx *blackboard.Tx) {
		job, err := tx.JobsDone().Head()
		require.NoError(t, err)
		assert.False(t, job.Succeeded)
		assert.Equal(t, -1, job.Retries)
	})
}

func TestOfficeStopCommand(t *testing.T) {
	f := startOffice(t, "DataTriggered")

	stop := models.NewStatusEvent(testRunID, 100, models.StatusStop)
	require.NoError(t, f.brk.Publish(context.Background(), "stopEvent", stop))

	waitFor(t, "office halt", func() bool { return !f.office.IsAlive() })
	assert.NoError(t, f.office.Join())
}

func TestOfficeIgnoresOtherRuns(t *testing.T) {
	f := startOffice(t, "DataTriggered")

	ev := models.NewStatusEvent("other-run", 100, models.StatusDataReady)
	ev.SetDatasets(models.PropDataset, []models.Dataset{postISR(0, 3, 88)})
	require.NoError(t, f.brk.Publish(context.Background(), "dataReady", ev))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, f.bb.Counts()[blackboard.QueueDataAvailable])
}

func TestOfficeQueuesPipelinesUntilWork(t *testing.T) {
	f := startOffice(t, "DataTriggered")
	assign := f.assignSub(t)

	// Pipeline announces before any data exists.
	f.pipelineReady(t, pipelineOrigin)
	waitFor(t, "pipeline recorded", func() bool {
		return f.bb.Counts()[blackboard.QueuePipelinesReady] == 1
	})

	f.announceAll(t, 3, 88)
	ev, err := assign.Receive(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, pipelineOrigin, ev.DestinationID)
	waitFor(t, "pipeline consumed", func() bool {
		return f.bb.Counts()[blackboard.QueuePipelinesReady] == 0
	})
}
