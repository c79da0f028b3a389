package blackboard

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
)

// Queue directory names under the blackboard root.
const (
	QueueDataAvailable  = "dataAvailable"
	QueueJobsPossible   = "jobsPossible"
	QueueJobsAvailable  = "jobsAvailable"
	QueueJobsInProgress = "jobsInProgress"
	QueueJobsDone       = "jobsDone"
	QueuePipelinesReady = "pipelinesReady"
)

// Blackboard is the durable state store coordinating the scheduler and the
// dispatcher. It owns six queues, a single mutex serializing every access,
// and the transaction protocol that keeps memory and disk in step: mutations
// inside Update hit memory at once and disk only at commit, and any failure
// rolls both views back to the pre-transaction snapshot.
type Blackboard struct {
	mu        sync.Mutex
	root      string
	logger    arbor.ILogger
	corrupted bool

	dataAvailable  *Queue[*DataProductItem]
	jobsPossible   *Queue[*JobItem]
	jobsAvailable  *Queue[*JobItem]
	jobsInProgress *Queue[*JobItem]
	jobsDone       *Queue[*JobItem]
	pipelinesReady *Queue[*PipelineItem]
}

// Open loads (creating as needed) a blackboard rooted at dir.
func Open(dir string, logger arbor.ILogger) (*Blackboard, error) {
	b := &Blackboard{root: dir, logger: logger}
	var err error
	if b.dataAvailable, err = openQueue(QueueDataAvailable, filepath.Join(dir, QueueDataAvailable), DataProductFromRecord, logger); err != nil {
		return nil, err
	}
	for queueName, target := range map[string]**Queue[*JobItem]{
		QueueJobsPossible:   &b.jobsPossible,
		QueueJobsAvailable:  &b.jobsAvailable,
		QueueJobsInProgress: &b.jobsInProgress,
		QueueJobsDone:       &b.jobsDone,
	} {
		q, err := openQueue(queueName, filepath.Join(dir, queueName), JobFromRecord, logger)
		if err != nil {
			return nil, err
		}
		*target = q
	}
	if b.pipelinesReady, err = openQueue(QueuePipelinesReady, filepath.Join(dir, QueuePipelinesReady), PipelineFromRecord, logger); err != nil {
		return nil, err
	}
	logger.Info().
		Str("dir", dir).
		Int("dataAvailable", b.dataAvailable.Length()).
		Int("jobsPossible", b.jobsPossible.Length()).
		Int("jobsAvailable", b.jobsAvailable.Length()).
		Int("jobsInProgress", b.jobsInProgress.Length()).
		Int("jobsDone", b.jobsDone.Length()).
		Int("pipelinesReady", b.pipelinesReady.Length()).
		Msg("Blackboard opened")
	return b, nil
}

// Root returns the blackboard's directory.
func (b *Blackboard) Root() string { return b.root }

// Tx is a handle to the blackboard's queues valid for the duration of one
// Update or View call.
type Tx struct {
	b *Blackboard
}

// DataAvailable is the audit log of every observed dataset announcement.
func (tx *Tx) DataAvailable() *Queue[*DataProductItem] { return tx.b.dataAvailable }

// JobsPossible holds forming jobs whose prerequisites are incomplete.
func (tx *Tx) JobsPossible() *Queue[*JobItem] { return tx.b.jobsPossible }

// JobsAvailable holds fully-formed jobs awaiting a pipeline.
func (tx *Tx) JobsAvailable() *Queue[*JobItem] { return tx.b.jobsAvailable }

// JobsInProgress holds dispatched jobs, tagged with their pipeline ID.
func (tx *Tx) JobsInProgress() *Queue[*JobItem] { return tx.b.jobsInProgress }

// JobsDone holds completed jobs.
func (tx *Tx) JobsDone() *Queue[*JobItem] { return tx.b.jobsDone }

// PipelinesReady holds pipelines that announced readiness for work.
func (tx *Tx) PipelinesReady() *Queue[*PipelineItem] { return tx.b.pipelinesReady }

type txQueue interface {
	QueueName() string
	begin()
	commit() error
	abort()
	restore() error
	end()
}

func (b *Blackboard) queues() []txQueue {
	return []txQueue{
		b.dataAvailable,
		b.jobsPossible,
		b.jobsAvailable,
		b.jobsInProgress,
		b.jobsDone,
		b.pipelinesReady,
	}
}

// Update runs fn inside one cross-queue transaction. An error from fn aborts:
// every queue's memory is restored from its snapshot, disk is untouched, and
// the error comes back wrapped in an UpdateError.
// On success the pending logs are replayed to disk; if any replay fails, both
// memory and disk of every participating queue are restored from their
// snapshots and a PersistError is returned. A failure during that restore
// leaves the blackboard corrupted and returns ErrCorrupted.
func (b *Blackboard) Update(fn func(tx *Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.corrupted {
		return ErrCorrupted
	}

	queues := b.queues()
	for _, q := range queues {
		q.begin()
	}

	if err := fn(&Tx{b: b}); err != nil {
		for _, q := range queues {
			q.abort()
		}
		return &UpdateError{Err: err}
	}

	for i, q := range queues {
		if err := q.commit(); err != nil {
			b.logger.Error().
				Str("queue", q.QueueName()).
				Err(err).
				Msg("Commit failed, restoring queues from snapshots")
			// Queues up to and including i may have replayed actions
			// to disk; restore all participants from their snapshots.
			for j := 0; j <= i; j++ {
				if rerr := queues[j].restore(); rerr != nil {
					b.corrupted = true
					b.logger.Error().
						Str("queue", queues[j].QueueName()).
						Err(rerr).
						Msg("Rollback failed, blackboard corrupted")
					return fmt.Errorf("%w: %v (after %v)", ErrCorrupted, rerr, err)
				}
			}
			for j := i + 1; j < len(queues); j++ {
				queues[j].abort()
			}
			return err
		}
	}

	for _, q := range queues {
		q.end()
	}
	return nil
}

// View runs fn with the blackboard locked for reading. Mutations attempted
// inside fn fail with ErrNotInTransaction.
func (b *Blackboard) View(fn func(tx *Tx)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&Tx{b: b})
}

// Counts returns the queue lengths keyed by queue name.
func (b *Blackboard) Counts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]int{
		QueueDataAvailable:  b.dataAvailable.Length(),
		QueueJobsPossible:   b.jobsPossible.Length(),
		QueueJobsAvailable:  b.jobsAvailable.Length(),
		QueueJobsInProgress: b.jobsInProgress.Length(),
		QueueJobsDone:       b.jobsDone.Length(),
		QueuePipelinesReady: b.pipelinesReady.Length(),
	}
}

// MoveJob pops the job at index i from one queue and appends it to another,
// inside the caller's transaction. The pair is atomic: either both queues
// observe the move or neither does.
func MoveJob(from, to *Queue[*JobItem], i int) (*JobItem, error) {
	item, err := from.Pop(i)
	if err != nil {
		return nil, err
	}
	if err := to.Append(item); err != nil {
		return nil, err
	}
	return item, nil
}
