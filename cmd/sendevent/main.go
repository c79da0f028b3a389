package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/announce"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/broker"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

// datasetArgs collects repeated -dataset flags.
type datasetArgs []string

func (d *datasetArgs) String() string {
	return fmt.Sprintf("%v", *d)
}

func (d *datasetArgs) Set(value string) error {
	*d = append(*d, value)
	return nil
}

var (
	datasets     datasetArgs
	brokerHost   = flag.String("broker", "localhost", "Broker host")
	brokerPort   = flag.Int("port", 6379, "Broker port")
	runID        = flag.String("runid", "", "Run ID (required)")
	runIDR       = flag.String("r", "", "Run ID (shorthand)")
	topic        = flag.String("topic", "", "Topic to publish on (required)")
	topicT       = flag.String("t", "", "Topic (shorthand)")
	pipeline     = flag.String("pipeline", "", "Pipeline name (ready events)")
	origin       = flag.Int64("originator", 0, "Originator ID (default: generated)")
	destination  = flag.Int64("destination", 0, "Destination ID (assign events)")
	jobName      = flag.String("name", "", "Job name (assign events)")
	success      = flag.Bool("success", true, "Success flag (done and dataset events)")
	intIDs       = flag.String("intids", "", "Identifier names with integer values, comma separated")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&datasets, "dataset", "Dataset as 'type name=value ...' (can be repeated)")
	flag.Var(&datasets, "D", "Dataset (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("sendevent version %s\n", common.GetVersion())
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sendevent [options] {ready|assign|dataset|done|stop}")
		os.Exit(1)
	}
	kind := flag.Arg(0)

	id := *runID
	if *runIDR != "" {
		id = *runIDR
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "a run ID is required (-runid)")
		os.Exit(1)
	}
	dest := *topic
	if *topicT != "" {
		dest = *topicT
	}
	if dest == "" {
		fmt.Fprintln(os.Stderr, "a topic is required (-topic)")
		os.Exit(1)
	}

	from := *origin
	if from == 0 {
		from = common.NewOriginatorID()
	}

	opts := announce.DefaultOptions()
	if *intIDs != "" {
		for _, part := range strings.Split(*intIDs, ",") {
			if part = strings.TrimSpace(part); part != "" {
				opts.IntIDs = append(opts.IntIDs, part)
			}
		}
	}
	var parsed []models.Dataset
	for _, text := range datasets {
		ds, err := announce.ParseDataset(text, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad dataset %q: %v\n", text, err)
			os.Exit(1)
		}
		parsed = append(parsed, ds)
	}

	var ev *models.Event
	switch kind {
	case "ready":
		ev = models.NewStatusEvent(id, from, models.StatusJobReady)
		ev.SetProp(models.PropPipelineName, *pipeline)
	case "assign":
		if *destination == 0 {
			fmt.Fprintln(os.Stderr, "assign events need a -destination")
			os.Exit(1)
		}
		ev = models.NewCommandEvent(id, from, *destination, models.StatusJobAssign)
		ev.SetProp(models.PropJobName, *jobName)
		ev.SetDatasets(models.PropInputs, parsed)
	case "dataset":
		if len(parsed) == 0 {
			fmt.Fprintln(os.Stderr, "dataset events need at least one -dataset")
			os.Exit(1)
		}
		ev = models.NewStatusEvent(id, from, models.StatusDataReady)
		ev.SetDatasets(models.PropDataset, parsed)
		ev.SetProp(models.PropSuccess, *success)
	case "done":
		ev = models.NewStatusEvent(id, from, models.StatusJobDone)
		ev.SetProp(models.PropSuccess, *success)
	case "stop":
		ev = models.NewStatusEvent(id, from, models.StatusStop)
	default:
		fmt.Fprintf(os.Stderr, "unknown event kind %q\n", kind)
		os.Exit(1)
	}

	logger := common.GetLogger()
	brk, err := broker.NewRedisBroker(fmt.Sprintf("%s:%d", *brokerHost, *brokerPort), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to broker")
		os.Exit(1)
	}
	defer brk.Close()

	if err := brk.Publish(context.Background(), dest, ev); err != nil {
		logger.Error().Err(err).Str("topic", dest).Msg("Failed to publish event")
		os.Exit(1)
	}
	logger.Info().
		Str("status", ev.Status).
		Str("topic", dest).
		Int64("originator", from).
		Msg("Event published")
}
