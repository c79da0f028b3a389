package blackboard

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

type actionKind int

const (
	actAppend actionKind = iota
	actInsert
	actUpdate
	actPop
	actClear
)

type action struct {
	kind     actionKind
	file     string
	contents string
	index    int
}

// entry pairs an item with its file and the encoded form the disk holds for
// it. The cached encoding is what rollback restores, so field mutations made
// inside a failed transaction roll back along with the queue membership.
type entry[T Item] struct {
	file     string
	item     T
	contents string
}

// Queue is one blackboard queue: an in-memory item list paired with a disk
// directory. All mutations run inside a blackboard transaction; they apply to
// memory immediately and are buffered in a pending log that is replayed
// against the disk at commit. A lazily-taken snapshot supports rollback of
// both views.
type Queue[T Item] struct {
	name    string
	disk    *diskQueue
	mem     []entry[T]
	decode  func(*models.Record) (T, error)
	logger  arbor.ILogger
	inTx    bool
	pending []action
	snap    []entry[T]
	hasSnap bool
}

// openQueue loads a queue from its directory, decoding every ordered item.
func openQueue[T Item](name, dir string, decode func(*models.Record) (T, error), logger arbor.ILogger) (*Queue[T], error) {
	disk, err := openDiskQueue(name, dir, logger)
	if err != nil {
		return nil, err
	}
	q := &Queue[T]{name: name, disk: disk, decode: decode, logger: logger}
	for _, file := range disk.files() {
		text, err := disk.read(file)
		if err != nil {
			return nil, err
		}
		rec, err := models.DecodeRecord(text)
		if err != nil {
			return nil, fmt.Errorf("queue %s: bad item file %s: %w", name, file, err)
		}
		item, err := decode(rec)
		if err != nil {
			return nil, fmt.Errorf("queue %s: bad item file %s: %w", name, file, err)
		}
		q.mem = append(q.mem, entry[T]{file: file, item: item, contents: text})
	}
	return q, nil
}

// QueueName returns the queue's name (also its directory basename).
func (q *Queue[T]) QueueName() string { return q.name }

// Length returns the number of items in the queue.
func (q *Queue[T]) Length() int { return len(q.mem) }

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool { return len(q.mem) == 0 }

// Get returns the item at index i without removing it.
func (q *Queue[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(q.mem) {
		return zero, ErrOutOfRange
	}
	return q.mem[i].item, nil
}

// Head returns the first item without removing it.
func (q *Queue[T]) Head() (T, error) {
	var zero T
	if len(q.mem) == 0 {
		return zero, ErrEmptyQueue
	}
	return q.mem[0].item, nil
}

// Items returns a copy of the queue contents in order.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.mem))
	for i, e := range q.mem {
		out[i] = e.item
	}
	return out
}

// Iterate calls fn for each item in order until fn returns false.
func (q *Queue[T]) Iterate(fn func(i int, item T) bool) {
	for i, e := range q.mem {
		if !fn(i, e.item) {
			return
		}
	}
}

// Append adds an item at the tail. Transaction only.
func (q *Queue[T]) Append(item T) error {
	return q.InsertAt(item, len(q.mem))
}

// InsertAt adds an item at position i; out-of-range positions append.
// Transaction only.
func (q *Queue[T]) InsertAt(item T, i int) error {
	if !q.inTx {
		return ErrNotInTransaction
	}
	if i < 0 || i > len(q.mem) {
		i = len(q.mem)
	}
	q.snapshot()
	taken := make(map[string]bool, len(q.mem))
	for _, e := range q.mem {
		taken[e.file] = true
	}
	file := q.disk.uniqueFile(item.Name(), taken)
	contents := item.ToRecord().Encode()
	e := entry[T]{file: file, item: item, contents: contents}
	q.mem = append(q.mem[:i], append([]entry[T]{e}, q.mem[i:]...)...)
	q.pending = append(q.pending, action{
		kind:     actInsert,
		file:     file,
		contents: contents,
		index:    i,
	})
	return nil
}

// Update re-encodes the item at index i so mutations to its fields reach the
// disk at commit. Transaction only.
func (q *Queue[T]) Update(i int) error {
	if !q.inTx {
		return ErrNotInTransaction
	}
	if i < 0 || i >= len(q.mem) {
		return ErrOutOfRange
	}
	q.snapshot()
	e := q.mem[i]
	q.pending = append(q.pending, action{
		kind:     actUpdate,
		file:     e.file,
		contents: e.item.ToRecord().Encode(),
	})
	return nil
}

// Pop removes and returns the item at index i. Transaction only; popping an
// empty queue returns ErrEmptyQueue.
func (q *Queue[T]) Pop(i int) (T, error) {
	var zero T
	if !q.inTx {
		return zero, ErrNotInTransaction
	}
	if len(q.mem) == 0 {
		return zero, ErrEmptyQueue
	}
	if i < 0 || i >= len(q.mem) {
		return zero, ErrOutOfRange
	}
	q.snapshot()
	item := q.mem[i].item
	q.mem = append(q.mem[:i], q.mem[i+1:]...)
	q.pending = append(q.pending, action{kind: actPop, index: i})
	return item, nil
}

// PopHead removes and returns the first item.
func (q *Queue[T]) PopHead() (T, error) {
	return q.Pop(0)
}

// RemoveAll empties the queue. Transaction only.
func (q *Queue[T]) RemoveAll() error {
	if !q.inTx {
		return ErrNotInTransaction
	}
	q.snapshot()
	q.mem = nil
	q.pending = append(q.pending, action{kind: actClear})
	return nil
}

// begin marks the queue as participating in a transaction. The snapshot is
// taken lazily on the first buffered mutation.
func (q *Queue[T]) begin() {
	q.inTx = true
	q.pending = nil
	q.hasSnap = false
}

func (q *Queue[T]) snapshot() {
	if q.hasSnap {
		return
	}
	q.snap = append([]entry[T](nil), q.mem...)
	q.hasSnap = true
}

// commit replays the pending log against the disk. The memory view already
// reflects the log; on success the two agree again.
func (q *Queue[T]) commit() error {
	for _, act := range q.pending {
		var err error
		switch act.kind {
		case actAppend, actInsert:
			err = q.disk.insertAt(act.file, act.contents, act.index)
		case actUpdate:
			err = q.disk.update(act.file, act.contents)
		case actPop:
			err = q.disk.pop(act.index)
		case actClear:
			err = q.disk.removeAll()
		}
		if err != nil {
			return &PersistError{Queue: q.name, Err: err}
		}
		if act.kind == actUpdate {
			q.setContents(act.file, act.contents)
		}
	}
	return nil
}

func (q *Queue[T]) setContents(file, contents string) {
	for i := range q.mem {
		if q.mem[i].file == file {
			q.mem[i].contents = contents
			return
		}
	}
}

// rebuildFromSnap decodes fresh items from the snapshot's cached encodings,
// discarding any field mutations the transaction made to the live pointers.
func (q *Queue[T]) rebuildFromSnap() ([]entry[T], error) {
	mem := make([]entry[T], len(q.snap))
	for i, e := range q.snap {
		rec, err := models.DecodeRecord(e.contents)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snapshot of %s: %w", e.file, err)
		}
		item, err := q.decode(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snapshot of %s: %w", e.file, err)
		}
		mem[i] = entry[T]{file: e.file, item: item, contents: e.contents}
	}
	return mem, nil
}

// abort discards the pending log and restores memory from the snapshot. Disk
// was never touched inside the transaction scope.
func (q *Queue[T]) abort() {
	if q.hasSnap {
		if mem, err := q.rebuildFromSnap(); err == nil {
			q.mem = mem
		} else {
			q.logger.Warn().
				Str("queue", q.name).
				Err(err).
				Msg("Snapshot decode failed, keeping live items")
			q.mem = q.snap
		}
	}
	q.end()
}

// restore rewrites both memory and disk from the snapshot. Called for every
// participating queue when any queue's commit fails.
func (q *Queue[T]) restore() error {
	if !q.hasSnap {
		// Nothing was buffered here; disk may still have replayed
		// actions from this queue's own commit, but with no mutations
		// the snapshot equals the live state.
		q.end()
		return nil
	}
	files := make([]string, len(q.snap))
	contents := make([]string, len(q.snap))
	for i, e := range q.snap {
		files[i] = e.file
		contents[i] = e.contents
	}
	if err := q.disk.restore(files, contents); err != nil {
		return &RollbackError{Queue: q.name, Err: err}
	}
	mem, err := q.rebuildFromSnap()
	if err != nil {
		return &RollbackError{Queue: q.name, Err: err}
	}
	q.mem = mem
	q.end()
	return nil
}

// end leaves the transaction, dropping the snapshot and pending log.
func (q *Queue[T]) end() {
	q.inTx = false
	q.pending = nil
	q.snap = nil
	q.hasSnap = false
}
