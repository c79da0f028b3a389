// Package announce parses dataset list files for the announcedataset CLI.
//
// A list file holds one dataset per line, interleaved with directives that
// adjust how the following lines are read and published:
//
//	>topic name      switch the publish topic
//	>pause n         sleep n seconds before the next announcement
//	>interval n      sleep n seconds between every announcement
//	>iddelim c       field delimiter inside a dataset line (default space)
//	>eqdelim c       name/value delimiter inside a field (default '=')
//	>success         mark following datasets valid (default)
//	>fail            mark following datasets invalid
//	>intids a b c    identifier names whose values parse as integers
//	>format names... positional field names for bare-value lines; the name
//	                 "type" takes the dataset type; no names resets
//	# comment
package announce

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

// Announcement is one dataset to publish, with its topic, validity, and the
// delay to observe before sending it.
type Announcement struct {
	Dataset models.Dataset
	Success bool
	Topic   string
	Delay   time.Duration
}

// Options seeds the parser state; directives in the file override it.
type Options struct {
	Topic    string
	Interval time.Duration
	IDDelim  string
	EqDelim  string
	IntIDs   []string
	Format   []string
	Success  bool
}

// DefaultOptions returns the parser defaults: space-delimited fields,
// '='-separated names and values, valid datasets, no pacing.
func DefaultOptions() Options {
	return Options{IDDelim: " ", EqDelim: "=", Success: true}
}

type parserState struct {
	Options
	intIDs map[string]bool
	pause  time.Duration
	first  bool
}

// ParseFile reads a dataset list file.
func ParseFile(path string, opts Options) ([]Announcement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list file: %w", err)
	}
	defer f.Close()
	out, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Parse reads a dataset list. Errors name the offending line.
func Parse(r io.Reader, opts Options) ([]Announcement, error) {
	if opts.IDDelim == "" {
		opts.IDDelim = " "
	}
	if opts.EqDelim == "" {
		opts.EqDelim = "="
	}
	st := &parserState{Options: opts, intIDs: make(map[string]bool), first: true}
	for _, name := range opts.IntIDs {
		st.intIDs[name] = true
	}

	var out []Announcement
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if err := st.directive(line[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}
		ann, err := st.dataset(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, ann)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}
	return out, nil
}

// ParseDataset parses one "type name=value ..." dataset description, as used
// for command-line dataset arguments.
func ParseDataset(text string, opts Options) (models.Dataset, error) {
	if opts.IDDelim == "" {
		opts.IDDelim = " "
	}
	if opts.EqDelim == "" {
		opts.EqDelim = "="
	}
	st := &parserState{Options: opts, intIDs: make(map[string]bool)}
	for _, name := range opts.IntIDs {
		st.intIDs[name] = true
	}
	if len(st.Format) > 0 {
		return st.positionalDataset(text)
	}
	return st.namedDataset(text)
}

func (st *parserState) directive(text string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return fmt.Errorf("empty directive")
	}
	name, args := fields[0], fields[1:]
	switch name {
	case "topic":
		if len(args) != 1 {
			return fmt.Errorf("topic directive wants one name")
		}
		st.Topic = args[0]
	case "pause":
		d, err := seconds(args)
		if err != nil {
			return fmt.Errorf("bad pause: %w", err)
		}
		st.pause += d
	case "interval":
		d, err := seconds(args)
		if err != nil {
			return fmt.Errorf("bad interval: %w", err)
		}
		st.Interval = d
	case "iddelim":
		if len(args) != 1 {
			return fmt.Errorf("iddelim directive wants one delimiter")
		}
		st.IDDelim = args[0]
	case "eqdelim":
		if len(args) != 1 {
			return fmt.Errorf("eqdelim directive wants one delimiter")
		}
		st.EqDelim = args[0]
	case "success":
		st.Success = true
	case "fail":
		st.Success = false
	case "intids":
		st.intIDs = make(map[string]bool, len(args))
		for _, id := range args {
			st.intIDs[id] = true
		}
	case "format":
		st.Format = args
	default:
		return fmt.Errorf("unknown directive %q", name)
	}
	return nil
}

func seconds(args []string) (time.Duration, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("want one number of seconds")
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("not a non-negative number: %q", args[0])
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (st *parserState) dataset(line string) (Announcement, error) {
	var ds models.Dataset
	var err error
	if len(st.Format) > 0 {
		ds, err = st.positionalDataset(line)
	} else {
		ds, err = st.namedDataset(line)
	}
	if err != nil {
		return Announcement{}, err
	}
	if st.Topic == "" {
		return Announcement{}, fmt.Errorf("no topic set for dataset %s", ds.Key())
	}

	ds.Valid = st.Success
	delay := st.pause
	if !st.first {
		delay += st.Interval
	}
	st.pause = 0
	st.first = false
	return Announcement{
		Dataset: ds,
		Success: st.Success,
		Topic:   st.Topic,
		Delay:   delay,
	}, nil
}

// namedDataset parses "type name=value name=value ...".
func (st *parserState) namedDataset(line string) (models.Dataset, error) {
	fields := st.split(line)
	if len(fields) == 0 {
		return models.Dataset{}, fmt.Errorf("empty dataset line")
	}
	ids := make(map[string]any, len(fields)-1)
	for _, field := range fields[1:] {
		name, raw, found := strings.Cut(field, st.EqDelim)
		if !found || name == "" {
			return models.Dataset{}, fmt.Errorf("field %q is not name%svalue", field, st.EqDelim)
		}
		v, err := st.value(name, raw)
		if err != nil {
			return models.Dataset{}, err
		}
		ids[name] = v
	}
	return models.NewDataset(fields[0], ids), nil
}

// positionalDataset assigns bare values to the names of the format directive.
func (st *parserState) positionalDataset(line string) (models.Dataset, error) {
	fields := st.split(line)
	if len(fields) != len(st.Format) {
		return models.Dataset{}, fmt.Errorf("got %d fields, format wants %d", len(fields), len(st.Format))
	}
	dsType := ""
	ids := make(map[string]any, len(fields))
	for i, name := range st.Format {
		if name == "type" {
			dsType = fields[i]
			continue
		}
		v, err := st.value(name, fields[i])
		if err != nil {
			return models.Dataset{}, err
		}
		ids[name] = v
	}
	if dsType == "" {
		return models.Dataset{}, fmt.Errorf("format names no type field")
	}
	return models.NewDataset(dsType, ids), nil
}

func (st *parserState) split(line string) []string {
	if st.IDDelim == " " {
		return strings.Fields(line)
	}
	parts := strings.Split(line, st.IDDelim)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (st *parserState) value(name, raw string) (any, error) {
	if !st.intIDs[name] {
		return raw, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("identifier %s: %q is not an integer", name, raw)
	}
	return n, nil
}
