package blackboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/scheduler"
)

// Property keys used in persisted item records.
const (
	KeyItemKind     = "bbitem.kind"
	KeyName         = "name"
	KeySuccess      = "success"
	KeyRetries      = "retries"
	KeyPipelineID   = "pipeline"
	KeyPipelineName = "pipelineName"
	KeyRunID        = "runid"
	KeyOriginator   = "originator"
	KeyIdentity     = "identity"
	KeyInputs       = "inputs"
	KeyOutputs      = "outputs"
	KeyMissing      = "missing"
)

// Item kinds stored under KeyItemKind.
const (
	kindDataProduct = "dataProduct"
	kindJob         = "job"
	kindPipeline    = "pipeline"
)

// Item is anything a blackboard queue can hold. Items encode to the same
// record format datasets use; Name seeds the on-disk filename.
type Item interface {
	Name() string
	ToRecord() *models.Record
}

// DataProductItem records one observed dataset announcement. The
// dataAvailable queue keeps these forever as an audit log.
type DataProductItem struct {
	Dataset models.Dataset
	Success bool
}

// NewDataProductItem wraps a dataset announcement.
func NewDataProductItem(ds models.Dataset, success bool) *DataProductItem {
	return &DataProductItem{Dataset: ds, Success: success}
}

func (i *DataProductItem) Name() string {
	return i.Dataset.Key()
}

func (i *DataProductItem) ToRecord() *models.Record {
	rec := models.NewRecord()
	rec.Set(KeyItemKind, kindDataProduct)
	rec.Set(KeySuccess, i.Success)
	dsRec := i.Dataset.ToRecord()
	for _, key := range dsRec.Keys() {
		v, _ := dsRec.Get(key)
		rec.Set(key, v)
	}
	return rec
}

// DataProductFromRecord rebuilds a data product item from its record.
func DataProductFromRecord(rec *models.Record) (*DataProductItem, error) {
	ds, err := models.DatasetFromRecord(rec)
	if err != nil {
		return nil, err
	}
	success, ok := rec.GetBool(KeySuccess)
	if !ok {
		success = ds.Valid
	}
	return &DataProductItem{Dataset: ds, Success: success}, nil
}

// JobItem is one unit of work: an identity dataset naming the job, the input
// and output dataset lists, and while the job is forming, the outstanding
// prerequisite keys. PipelineID is set when the job is dispatched.
type JobItem struct {
	JobName    string
	Identity   models.Dataset
	Inputs     []models.Dataset
	Outputs    []models.Dataset
	PipelineID int64
	Succeeded  bool
	Retries    int

	handler *scheduler.TriggerHandler
}

// NewJobItem creates a forming job whose handler still awaits the listed
// prerequisite datasets.
func NewJobItem(name string, identity models.Dataset, inputs, outputs []models.Dataset, handler *scheduler.TriggerHandler, retries int) *JobItem {
	return &JobItem{
		JobName:  name,
		Identity: identity,
		Inputs:   append([]models.Dataset(nil), inputs...),
		Outputs:  append([]models.Dataset(nil), outputs...),
		Retries:  retries,
		handler:  handler,
	}
}

func (i *JobItem) Name() string {
	return i.JobName
}

// Handler returns the job's receipt tracker, never nil.
func (i *JobItem) Handler() *scheduler.TriggerHandler {
	if i.handler == nil {
		i.handler = scheduler.TriggerHandlerFromKeys(nil)
	}
	return i.handler
}

func (i *JobItem) ToRecord() *models.Record {
	rec := models.NewRecord()
	rec.Set(KeyItemKind, kindJob)
	rec.Set(KeyName, i.JobName)
	rec.Set(KeySuccess, i.Succeeded)
	rec.Set(KeyRetries, int64(i.Retries))
	rec.Set(KeyPipelineID, i.PipelineID)
	rec.Set(KeyIdentity, i.Identity.Encode())
	for n, ds := range i.Inputs {
		rec.Set(indexedKey(KeyInputs, n), ds.Encode())
	}
	for n, ds := range i.Outputs {
		rec.Set(indexedKey(KeyOutputs, n), ds.Encode())
	}
	for n, key := range i.Handler().MissingKeys() {
		rec.Set(indexedKey(KeyMissing, n), key)
	}
	return rec
}

// JobFromRecord rebuilds a job item, including its outstanding-prerequisite
// state, so restart resumes exactly where the process died.
func JobFromRecord(rec *models.Record) (*JobItem, error) {
	name, ok := rec.GetString(KeyName)
	if !ok {
		return nil, fmt.Errorf("job record missing %s", KeyName)
	}
	item := &JobItem{JobName: name}
	if s, ok := rec.GetBool(KeySuccess); ok {
		item.Succeeded = s
	}
	if r, ok := rec.GetInt(KeyRetries); ok {
		item.Retries = int(r)
	}
	if p, ok := rec.GetInt(KeyPipelineID); ok {
		item.PipelineID = p
	}
	if text, ok := rec.GetString(KeyIdentity); ok {
		identity, err := models.DecodeDataset(text)
		if err != nil {
			return nil, fmt.Errorf("job %s: bad identity: %w", name, err)
		}
		item.Identity = identity
	}
	var err error
	if item.Inputs, err = datasetList(rec, KeyInputs); err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}
	if item.Outputs, err = datasetList(rec, KeyOutputs); err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}
	var missing []string
	for n := 0; ; n++ {
		key, ok := rec.GetString(indexedKey(KeyMissing, n))
		if !ok {
			break
		}
		missing = append(missing, key)
	}
	item.handler = scheduler.TriggerHandlerFromKeys(missing)
	return item, nil
}

// PipelineItem records one worker pipeline that announced readiness. It is
// removed from pipelinesReady when its originator is allocated a job.
type PipelineItem struct {
	PipelineName string
	RunID        string
	OriginatorID int64
}

// NewPipelineItem wraps a pipeline-ready announcement.
func NewPipelineItem(name, runID string, originator int64) *PipelineItem {
	return &PipelineItem{PipelineName: name, RunID: runID, OriginatorID: originator}
}

func (i *PipelineItem) Name() string {
	return fmt.Sprintf("%s-%d", i.PipelineName, i.OriginatorID)
}

func (i *PipelineItem) ToRecord() *models.Record {
	rec := models.NewRecord()
	rec.Set(KeyItemKind, kindPipeline)
	rec.Set(KeyPipelineName, i.PipelineName)
	rec.Set(KeyRunID, i.RunID)
	rec.Set(KeyOriginator, i.OriginatorID)
	return rec
}

// PipelineFromRecord rebuilds a pipeline item from its record.
func PipelineFromRecord(rec *models.Record) (*PipelineItem, error) {
	name, ok := rec.GetString(KeyPipelineName)
	if !ok {
		return nil, fmt.Errorf("pipeline record missing %s", KeyPipelineName)
	}
	item := &PipelineItem{PipelineName: name}
	item.RunID, _ = rec.GetString(KeyRunID)
	item.OriginatorID, _ = rec.GetInt(KeyOriginator)
	return item, nil
}

func indexedKey(base string, n int) string {
	return base + "." + strconv.Itoa(n)
}

func datasetList(rec *models.Record, base string) ([]models.Dataset, error) {
	var out []models.Dataset
	for n := 0; ; n++ {
		text, ok := rec.GetString(indexedKey(base, n))
		if !ok {
			break
		}
		ds, err := models.DecodeDataset(text)
		if err != nil {
			return nil, fmt.Errorf("bad %s dataset %d: %w", base, n, err)
		}
		out = append(out, ds)
	}
	return out, nil
}

// sanitizeFileName maps an item name onto a safe filename stem.
func sanitizeFileName(name string) string {
	if name == "" {
		return "item"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
