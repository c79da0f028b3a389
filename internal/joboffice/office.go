package joboffice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/blackboard"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/broker"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/scheduler"
)

// Office runs one job office: it watches dataset announcements for a run,
// forms jobs on the blackboard, and hands completed jobs to idle pipelines.
// One goroutine drives the scheduling loop; a second listens for stop
// commands so a wedged loop can still be shut down.
type Office struct {
	policy     *common.Policy
	runID      string
	originator int64
	bb         *blackboard.Blackboard
	brk        broker.Broker
	sched      JobScheduler
	logger     arbor.ILogger

	dataSubs  []broker.Subscription
	readySub  broker.Subscription
	doneSub   broker.Subscription
	officeSub broker.Subscription
	stopSub   broker.Subscription

	halt         atomic.Bool
	finalDataset atomic.Bool
	alive        atomic.Bool

	runDone  chan struct{}
	stopDone chan struct{}

	mu     sync.Mutex
	runErr error
}

// New wires an office to its blackboard and broker and opens every
// subscription it needs. Subscriptions are scoped to the run ID so several
// offices can share one broker.
func New(policy *common.Policy, runID string, originator int64, bb *blackboard.Blackboard, brk broker.Broker, logger arbor.ILogger) (*Office, error) {
	sched, err := NewScheduler(policy.Schedule, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}
	o := &Office{
		policy:     policy,
		runID:      runID,
		originator: originator,
		bb:         bb,
		brk:        brk,
		sched:      sched,
		logger:     logger,
		runDone:    make(chan struct{}),
		stopDone:   make(chan struct{}),
	}

	runSelector := fmt.Sprintf("%s='%s'", models.FieldRunID, runID)
	for _, topic := range policy.Listen.DataReadyEvent {
		sub, err := brk.Subscribe(topic, runSelector)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		o.dataSubs = append(o.dataSubs, sub)
	}
	if o.readySub, err = brk.Subscribe(policy.Listen.PipelineEvent,
		fmt.Sprintf("%s and %s='%s'", runSelector, models.FieldStatus, models.StatusJobReady)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", policy.Listen.PipelineEvent, err)
	}
	if o.doneSub, err = brk.Subscribe(policy.Listen.PipelineEvent,
		fmt.Sprintf("%s and %s='%s'", runSelector, models.FieldStatus, models.StatusJobDone)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", policy.Listen.PipelineEvent, err)
	}
	if o.officeSub, err = brk.Subscribe(policy.Listen.JobOfficeEvent, runSelector); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", policy.Listen.JobOfficeEvent, err)
	}
	if o.stopSub, err = brk.Subscribe(policy.Listen.StopEvent, runSelector); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", policy.Listen.StopEvent, err)
	}
	return o, nil
}

// Start launches the scheduling loop and the stop listener.
func (o *Office) Start() {
	o.alive.Store(true)
	go o.run()
	go o.listenForStop()
	o.logger.Info().
		Str("office", o.policy.Name).
		Str("runid", o.runID).
		Msg("Job office started")
}

// Stop asks the office to halt after its current iteration.
func (o *Office) Stop() {
	o.halt.Store(true)
}

// IsAlive reports whether the scheduling loop is still running.
func (o *Office) IsAlive() bool {
	return o.alive.Load()
}

// Join blocks until both goroutines exit and returns the loop's error, if any.
func (o *Office) Join() error {
	<-o.runDone
	<-o.stopDone
	return o.Err()
}

// Err returns the error that stopped the loop, or nil for a clean halt.
func (o *Office) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runErr
}

func (o *Office) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runErr == nil {
		o.runErr = err
	}
}

func (o *Office) run() {
	defer close(o.runDone)
	defer o.alive.Store(false)
	for !o.halt.Load() {
		if err := o.iterate(); err != nil {
			o.logger.Error().Err(err).Msg("Job office loop failed")
			o.setErr(err)
			o.halt.Store(true)
		}
	}
	o.logger.Info().
		Str("office", o.policy.Name).
		Msg("Job office halted")
}

// iterate runs one pass of the scheduling loop.
func (o *Office) iterate() error {
	o.processAdminEvents()
	if err := o.processDoneJobs(); err != nil {
		return err
	}
	if err := o.processDataEvents(); err != nil {
		return err
	}
	if err := o.findAvailableJobs(); err != nil {
		return err
	}
	if err := o.allocateJobs(); err != nil {
		return err
	}
	o.checkHalt()
	return nil
}

// drain receives up to limit events: the first receive waits initial_wait for
// work to arrive, later ones only empty_wait. Limit <= 0 means no limit.
func (o *Office) drain(sub broker.Subscription, limit int) []*models.Event {
	var out []*models.Event
	wait := o.policy.Listen.InitialWait
	for limit <= 0 || len(out) < limit {
		ev, err := sub.Receive(wait)
		if errors.Is(err, broker.ErrNoEvent) {
			break
		}
		if err != nil {
			o.logger.Warn().Err(err).Msg("Receive failed, skipping")
			break
		}
		out = append(out, ev)
		wait = o.policy.Listen.EmptyWait
	}
	return out
}

// processAdminEvents handles commands addressed to the office itself.
func (o *Office) processAdminEvents() {
	for _, ev := range o.drain(o.officeSub, 0) {
		switch ev.Status {
		case models.StatusFinalDataset:
			o.logger.Info().Msg("Final dataset announced; office will halt when all jobs finish")
			o.finalDataset.Store(true)
		case models.StatusStop:
			o.logger.Info().Msg("Stop command received")
			o.halt.Store(true)
		default:
			o.logger.Warn().
				Str("status", ev.Status).
				Msg("Unexpected office event, ignoring")
		}
	}
}

// processDoneJobs settles completed jobs: success moves the job to jobsDone,
// failure re-queues it while retries remain.
func (o *Office) processDoneJobs() error {
	for _, ev := range o.drain(o.doneSub, 0) {
		origin := ev.OriginatorID
		success := ev.BoolProp(models.PropSuccess, true)
		err := o.bb.Update(func(tx *blackboard.Tx) error {
			inProgress := tx.JobsInProgress()
			idx := -1
			for i := 0; i < inProgress.Length(); i++ {
				job, err := inProgress.Get(i)
				if err != nil {
					return err
				}
				if job.PipelineID == origin {
					idx = i
					break
				}
			}
			if idx < 0 {
				o.logger.Warn().
					Int64("originator", origin).
					Msg("Done event from pipeline with no job in progress")
				return nil
			}
			job, err := inProgress.Get(idx)
			if err != nil {
				return err
			}
			if success {
				job.Succeeded = true
				o.logger.Info().
					Str("job", job.JobName).
					Int64("pipeline", origin).
					Msg("Job completed")
				_, err = blackboard.MoveJob(inProgress, tx.JobsDone(), idx)
				return err
			}
			job.Retries--
			if job.Retries >= 0 {
				o.logger.Warn().
					Str("job", job.JobName).
					Int64("pipeline", origin).
					Int("retriesLeft", job.Retries).
					Msg("Job failed, requeueing")
				job.PipelineID = 0
				_, err = blackboard.MoveJob(inProgress, tx.JobsAvailable(), idx)
				return err
			}
			job.Succeeded = false
			o.logger.Error().
				Str("job", job.JobName).
				Int64("pipeline", origin).
				Msg("Job failed, no retries left")
			_, err = blackboard.MoveJob(inProgress, tx.JobsDone(), idx)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// processDataEvents feeds dataset announcements to the scheduler, at most
// high_watermark events per topic per iteration.
func (o *Office) processDataEvents() error {
	for _, sub := range o.dataSubs {
		for _, ev := range o.drain(sub, o.policy.Listen.HighWatermark) {
			datasets, err := ev.Datasets(models.PropDataset)
			if err != nil {
				o.logger.Warn().Err(err).Msg("Announcement with undecodable datasets, dropping")
				continue
			}
			var success *bool
			if _, present := ev.Props[models.PropSuccess]; present {
				s := ev.BoolProp(models.PropSuccess, true)
				success = &s
			}
			for _, ds := range datasets {
				if err := o.processDataset(ds, success); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (o *Office) processDataset(ds models.Dataset, success *bool) error {
	err := o.bb.Update(func(tx *blackboard.Tx) error {
		recognized, err := o.sched.ProcessDataset(tx, ds, success)
		if err != nil {
			return err
		}
		if !recognized {
			o.logger.Debug().
				Str("dataset", ds.Key()).
				Msg("Dataset not recognized by any trigger")
		}
		return nil
	})
	var nonClosed *scheduler.NonClosedSetError
	if errors.As(err, &nonClosed) {
		o.logger.Warn().
			Str("dataset", ds.Key()).
			Str("id", nonClosed.ID).
			Msg("Cannot enumerate prerequisites for dataset, dropping")
		return nil
	}
	return err
}

// findAvailableJobs promotes fully-formed jobs.
func (o *Office) findAvailableJobs() error {
	var promoted int
	err := o.bb.Update(func(tx *blackboard.Tx) error {
		var err error
		promoted, err = o.sched.MakeJobsAvailable(tx)
		return err
	})
	if err != nil {
		return err
	}
	if promoted > 0 {
		o.logger.Info().Int("count", promoted).Msg("Jobs made available")
	}
	return nil
}

// allocateJobs records pipeline-ready announcements and pairs waiting
// pipelines with available jobs. Each assignment publishes a job:assign
// command and dequeues the pipeline and the job in one transaction.
func (o *Office) allocateJobs() error {
	for _, ev := range o.drain(o.readySub, 0) {
		item := blackboard.NewPipelineItem(
			ev.StringProp(models.PropPipelineName), ev.RunID, ev.OriginatorID)
		err := o.bb.Update(func(tx *blackboard.Tx) error {
			return tx.PipelinesReady().Append(item)
		})
		if err != nil {
			return err
		}
	}

	for {
		assigned := false
		err := o.bb.Update(func(tx *blackboard.Tx) error {
			if tx.PipelinesReady().Empty() || tx.JobsAvailable().Empty() {
				return nil
			}
			pipe, err := tx.PipelinesReady().PopHead()
			if err != nil {
				return err
			}
			job, err := tx.JobsAvailable().Head()
			if err != nil {
				return err
			}

			assign := models.NewCommandEvent(o.runID, o.originator, pipe.OriginatorID, models.StatusJobAssign)
			assign.SetProp(models.PropJobName, job.JobName)
			assign.SetProp(models.PropIdentity, job.Identity.Encode())
			assign.SetDatasets(models.PropInputs, job.Inputs)
			assign.SetDatasets(models.PropOutputs, job.Outputs)
			if err := o.brk.Publish(context.Background(), o.policy.Listen.PipelineEvent, assign); err != nil {
				return fmt.Errorf("failed to assign job %s: %w", job.JobName, err)
			}

			job.PipelineID = pipe.OriginatorID
			if _, err := blackboard.MoveJob(tx.JobsAvailable(), tx.JobsInProgress(), 0); err != nil {
				return err
			}
			o.logger.Info().
				Str("job", job.JobName).
				Int64("pipeline", pipe.OriginatorID).
				Msg("Job assigned")
			assigned = true
			return nil
		})
		if err != nil {
			return err
		}
		if !assigned {
			return nil
		}
	}
}

// checkHalt stops the loop once the final dataset has been announced and
// every formed job has been settled.
func (o *Office) checkHalt() {
	if !o.finalDataset.Load() {
		return
	}
	counts := o.bb.Counts()
	if counts[blackboard.QueueJobsAvailable] == 0 && counts[blackboard.QueueJobsInProgress] == 0 {
		o.logger.Info().Msg("Final dataset seen and all jobs settled, halting")
		o.halt.Store(true)
	}
}

// listenForStop watches the stop topic independently of the scheduling loop.
func (o *Office) listenForStop() {
	defer close(o.stopDone)
	for !o.halt.Load() {
		ev, err := o.stopSub.Receive(o.policy.Listen.StopWait)
		if errors.Is(err, broker.ErrNoEvent) {
			continue
		}
		if err != nil {
			o.logger.Warn().Err(err).Msg("Stop listener receive failed")
			time.Sleep(time.Second)
			continue
		}
		o.logger.Info().
			Int64("originator", ev.OriginatorID).
			Msg("Stop event received")
		o.halt.Store(true)
	}
}
