package blackboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
)

const (
	orderFile = "_order.list"
	itemExt   = ".rec"
	addPrefix = ".add."
	delPrefix = ".del."
	dirPerm   = 0755
	filePerm  = 0644
)

// diskQueue is the on-disk half of a blackboard queue: one directory, one
// file per item, and an _order.list file recording the authoritative order of
// item filenames. Filenames starting with '.' or '_' are hidden from the
// listing; the mutation protocol uses '.add.' and '.del.' prefixed names so
// that a crash at any point leaves either the old or the new state visible.
type diskQueue struct {
	name   string
	dir    string
	order  []string
	logger arbor.ILogger
}

// openDiskQueue opens (creating if needed) a queue directory and reconciles
// the order list with the files actually present: names on disk but not in
// the list are appended in sorted order, names in the list but missing on
// disk are dropped. Reconciliation is logged and the order file rewritten.
func openDiskQueue(name, dir string, logger arbor.ILogger) (*diskQueue, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &AccessError{Queue: name, Err: err}
	}
	q := &diskQueue{name: name, dir: dir, logger: logger}

	listed, err := q.listVisible()
	if err != nil {
		return nil, &AccessError{Queue: name, Err: err}
	}

	recorded, err := q.readOrder()
	if err != nil {
		return nil, &AccessError{Queue: name, Err: err}
	}
	if recorded == nil {
		sort.Strings(listed)
		q.order = listed
		if err := q.writeOrder(); err != nil {
			return nil, &AccessError{Queue: name, Err: err}
		}
		return q, nil
	}

	onDisk := make(map[string]bool, len(listed))
	for _, f := range listed {
		onDisk[f] = true
	}
	var order []string
	inOrder := make(map[string]bool, len(recorded))
	for _, f := range recorded {
		if !onDisk[f] {
			logger.Warn().
				Str("queue", name).
				Str("file", f).
				Msg("Ordered item missing on disk, dropping from queue")
			continue
		}
		order = append(order, f)
		inOrder[f] = true
	}
	var strays []string
	for _, f := range listed {
		if !inOrder[f] {
			strays = append(strays, f)
		}
	}
	if len(strays) > 0 {
		sort.Strings(strays)
		logger.Warn().
			Str("queue", name).
			Strs("files", strays).
			Msg("Unordered items found on disk, appending to queue")
		order = append(order, strays...)
	}
	q.order = order
	if err := q.writeOrder(); err != nil {
		return nil, &AccessError{Queue: name, Err: err}
	}
	return q, nil
}

// files returns the ordered item filenames.
func (q *diskQueue) files() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// read returns the contents of one item file.
func (q *diskQueue) read(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, file))
	if err != nil {
		return "", &AccessError{Queue: q.name, Err: err}
	}
	return string(data), nil
}

// uniqueFile derives an unused filename from an item name. Collisions get a
// numeric suffix before the extension.
func (q *diskQueue) uniqueFile(itemName string, taken map[string]bool) string {
	stem := sanitizeFileName(itemName)
	file := stem + itemExt
	for n := 2; taken[file] || q.exists(file); n++ {
		file = fmt.Sprintf("%s-%d%s", stem, n, itemExt)
	}
	return file
}

func (q *diskQueue) exists(file string) bool {
	_, err := os.Stat(filepath.Join(q.dir, file))
	return err == nil
}

// append writes an item under a pending '.add.' name, renames it into place,
// and records it at the end of the order list. On any failure the pending
// file is deleted and the order list restored.
func (q *diskQueue) append(file, contents string) error {
	return q.insertAt(file, contents, len(q.order))
}

// insertAt is append at an arbitrary position; out-of-range means append.
func (q *diskQueue) insertAt(file, contents string, i int) error {
	if i < 0 || i > len(q.order) {
		i = len(q.order)
	}
	pending := filepath.Join(q.dir, addPrefix+file)
	final := filepath.Join(q.dir, file)

	if err := os.WriteFile(pending, []byte(contents), filePerm); err != nil {
		return fmt.Errorf("failed to write pending item: %w", err)
	}
	if err := os.Rename(pending, final); err != nil {
		os.Remove(pending)
		return fmt.Errorf("failed to finalize item %s: %w", file, err)
	}

	prev := q.order
	q.order = append(append(append([]string(nil), q.order[:i]...), file), q.order[i:]...)
	if err := q.writeOrder(); err != nil {
		q.order = prev
		os.Remove(final)
		return err
	}
	return nil
}

// update rewrites an existing item file in place: write the new contents
// under a pending '.add.' name, then rename over the final name. The order
// list is unchanged.
func (q *diskQueue) update(file, contents string) error {
	pending := filepath.Join(q.dir, addPrefix+file)
	final := filepath.Join(q.dir, file)

	if err := os.WriteFile(pending, []byte(contents), filePerm); err != nil {
		return fmt.Errorf("failed to write pending item: %w", err)
	}
	if err := os.Rename(pending, final); err != nil {
		os.Remove(pending)
		return fmt.Errorf("failed to finalize item %s: %w", file, err)
	}
	return nil
}

// pop removes the item at index i: rename to a hidden '.del.' name, rewrite
// the order list, then purge the hidden file. A failure while rewriting the
// order list renames the item back.
func (q *diskQueue) pop(i int) error {
	if i < 0 || i >= len(q.order) {
		return ErrOutOfRange
	}
	file := q.order[i]
	final := filepath.Join(q.dir, file)
	hidden := filepath.Join(q.dir, delPrefix+file)

	if err := os.Rename(final, hidden); err != nil {
		return fmt.Errorf("failed to hide item %s: %w", file, err)
	}
	prev := q.order
	q.order = append(append([]string(nil), q.order[:i]...), q.order[i+1:]...)
	if err := q.writeOrder(); err != nil {
		q.order = prev
		if rerr := os.Rename(hidden, final); rerr != nil {
			return fmt.Errorf("%w (and failed to unhide %s: %v)", err, file, rerr)
		}
		return err
	}
	if err := os.Remove(hidden); err != nil {
		q.logger.Warn().
			Str("queue", q.name).
			Str("file", file).
			Err(err).
			Msg("Failed to purge popped item file")
	}
	return nil
}

// removeAll drops every item and empties the order list.
func (q *diskQueue) removeAll() error {
	for _, file := range q.order {
		if err := os.Remove(filepath.Join(q.dir, file)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove item %s: %w", file, err)
		}
	}
	q.order = nil
	return q.writeOrder()
}

// restore rewrites the whole directory from a snapshot: every snapshot item
// is written back, files not in the snapshot are removed, and the order list
// is rewritten to match. Used after a failed commit.
func (q *diskQueue) restore(files []string, contents []string) error {
	if err := os.MkdirAll(q.dir, dirPerm); err != nil {
		return err
	}
	keep := make(map[string]bool, len(files))
	for n, file := range files {
		keep[file] = true
		path := filepath.Join(q.dir, file)
		if err := os.WriteFile(path, []byte(contents[n]), filePerm); err != nil {
			return fmt.Errorf("failed to restore item %s: %w", file, err)
		}
	}
	listed, err := q.listVisible()
	if err != nil {
		return err
	}
	for _, file := range listed {
		if !keep[file] {
			if err := os.Remove(filepath.Join(q.dir, file)); err != nil {
				return fmt.Errorf("failed to remove stray item %s: %w", file, err)
			}
		}
	}
	q.order = append([]string(nil), files...)
	return q.writeOrder()
}

func (q *diskQueue) listVisible() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (q *diskQueue) readOrder() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, orderFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func (q *diskQueue) writeOrder() error {
	var sb strings.Builder
	for _, file := range q.order {
		sb.WriteString(file)
		sb.WriteByte('\n')
	}
	path := filepath.Join(q.dir, orderFile)
	if err := os.WriteFile(path, []byte(sb.String()), filePerm); err != nil {
		return fmt.Errorf("failed to write order list: %w", err)
	}
	return nil
}
