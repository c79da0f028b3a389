package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/announce"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/broker"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

var (
	brokerHost   = flag.String("broker", "localhost", "Broker host")
	brokerHostB  = flag.String("b", "", "Broker host (shorthand)")
	brokerPort   = flag.Int("port", 6379, "Broker port")
	runID        = flag.String("runid", "", "Run ID (required)")
	runIDR       = flag.String("r", "", "Run ID (shorthand)")
	topic        = flag.String("topic", "", "Default topic for datasets (list files may override)")
	topicT       = flag.String("t", "", "Default topic (shorthand)")
	interval     = flag.Float64("interval", 0, "Default seconds between announcements")
	invalid      = flag.Bool("invalid", false, "Mark datasets invalid by default")
	intIDs       = flag.String("intids", "", "Identifier names with integer values, comma separated")
	format       = flag.String("format", "", "Positional field names for bare-value lines, comma separated")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("announcedataset version %s\n", common.GetVersion())
		os.Exit(0)
	}

	id := *runID
	if *runIDR != "" {
		id = *runIDR
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "a run ID is required (-runid)")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no dataset list files given")
		os.Exit(1)
	}

	opts := announce.DefaultOptions()
	opts.Topic = *topic
	if *topicT != "" {
		opts.Topic = *topicT
	}
	opts.Interval = time.Duration(*interval * float64(time.Second))
	opts.Success = !*invalid
	opts.IntIDs = splitList(*intIDs)
	opts.Format = splitList(*format)

	var lists [][]announce.Announcement
	failed := false
	for _, path := range flag.Args() {
		list, err := announce.ParseFile(path, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed = true
			continue
		}
		lists = append(lists, list)
	}
	if failed {
		os.Exit(1)
	}

	host := *brokerHost
	if *brokerHostB != "" {
		host = *brokerHostB
	}
	logger := common.GetLogger()
	brk, err := broker.NewRedisBroker(fmt.Sprintf("%s:%d", host, *brokerPort), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to broker")
		os.Exit(1)
	}
	defer brk.Close()

	origin := common.NewOriginatorID()
	ctx := context.Background()
	sent := 0
	for _, list := range lists {
		for _, ann := range list {
			if ann.Delay > 0 {
				time.Sleep(ann.Delay)
			}
			ev := models.NewStatusEvent(id, origin, models.StatusDataReady)
			ev.SetDatasets(models.PropDataset, []models.Dataset{ann.Dataset})
			ev.SetProp(models.PropSuccess, ann.Success)
			if err := brk.Publish(ctx, ann.Topic, ev); err != nil {
				logger.Error().Err(err).Str("topic", ann.Topic).Msg("Failed to publish announcement")
				os.Exit(1)
			}
			sent++
		}
	}
	logger.Info().Int("count", sent).Str("runid", id).Msg("Announcements published")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
