package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/broker"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
)

// topicList collects repeated -topic flags.
type topicList []string

func (t *topicList) String() string {
	return fmt.Sprintf("%v", *t)
}

func (t *topicList) Set(value string) error {
	*t = append(*t, value)
	return nil
}

var (
	topics       topicList
	brokerHost   = flag.String("broker", "localhost", "Broker host")
	brokerPort   = flag.Int("port", 6379, "Broker port")
	selector     = flag.String("selector", "", "Event selector, e.g. \"RUNID='run-1'\"")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&topics, "topic", "Topic to watch (can be repeated)")
	flag.Var(&topics, "t", "Topic (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("showevents version %s\n", common.GetVersion())
		os.Exit(0)
	}
	if len(topics) == 0 {
		fmt.Fprintln(os.Stderr, "at least one -topic is required")
		os.Exit(1)
	}

	logger := common.GetLogger()
	brk, err := broker.NewRedisBroker(fmt.Sprintf("%s:%d", *brokerHost, *brokerPort), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to broker")
		os.Exit(1)
	}
	defer brk.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, topic := range topics {
		sub, err := brk.Subscribe(topic, *selector)
		if err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe")
			os.Exit(1)
		}
		wg.Add(1)
		go func(topic string, sub broker.Subscription) {
			defer wg.Done()
			defer sub.Close()
			for {
				select {
				case <-done:
					return
				default:
				}
				ev, err := sub.Receive(time.Second)
				if errors.Is(err, broker.ErrNoEvent) {
					continue
				}
				if err != nil {
					logger.Warn().Err(err).Str("topic", topic).Msg("Receive failed")
					continue
				}
				line, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Printf("%s %s\n", topic, line)
			}
		}(topic, sub)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	close(done)
	wg.Wait()
}
