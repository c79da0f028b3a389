package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/blackboard"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/broker"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/joboffice"
)

// Exit codes: 0 clean halt, 1 fatal error, 2 unexpected failure.
const (
	exitOK         = 0
	exitFatal      = 1
	exitUnexpected = 2
)

var (
	policyFile   = flag.String("policy", "", "Policy file (.toml or .yaml)")
	policyFileP  = flag.String("P", "", "Policy file (shorthand)")
	runID        = flag.String("runid", "", "Run ID (default: generated)")
	runIDR       = flag.String("r", "", "Run ID (shorthand)")
	brokerHost   = flag.String("broker", "", "Broker host (overrides policy)")
	brokerPort   = flag.Int("port", 0, "Broker port (overrides policy)")
	dataRoot     = flag.String("datadir", "", "Blackboard root (overrides policy)")
	dataRootD    = flag.String("d", "", "Blackboard root (shorthand)")
	logLevel     = flag.String("loglevel", "info", "Log level")
	logOutput    = flag.String("logoutput", "console", "Log outputs, comma separated (console,file)")
	foreground   = flag.Bool("foreground", false, "Run in the foreground (always on; kept for script compatibility)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	logger arbor.ILogger
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			common.WriteCrashFile(r, common.GetStackTrace())
			if logger != nil {
				logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Job office crashed")
			}
			code = exitUnexpected
		}
	}()

	flag.Parse()
	common.InstallCrashHandler("")

	if *showVersion || *showVersionV {
		fmt.Printf("joboffice version %s\n", common.GetVersion())
		return exitOK
	}
	_ = *foreground

	policyPath := *policyFile
	if *policyFileP != "" {
		policyPath = *policyFileP
	}
	if policyPath == "" {
		fmt.Fprintln(os.Stderr, "a policy file is required (-policy)")
		return exitFatal
	}

	logger = common.InitLogger("joboffice", *logLevel, splitOutputs(*logOutput))
	common.PrintBanner("JobOffice")
	if logFile := common.GetLogFilePath(logger); logFile != "" {
		logger.Info().Str("file", logFile).Msg("Logging to file")
	}

	policy, err := common.LoadPolicy(policyPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load policy")
		return exitFatal
	}
	if *brokerHost != "" {
		policy.Listen.BrokerHostName = *brokerHost
	}
	if *brokerPort != 0 {
		policy.Listen.BrokerHostPort = *brokerPort
	}

	id := *runID
	if *runIDR != "" {
		id = *runIDR
	}
	if id == "" {
		id = common.NewRunID()
	}

	root := policy.PersistRoot(id)
	if *dataRoot != "" {
		root = *dataRoot
	}
	if *dataRootD != "" {
		root = *dataRootD
	}

	logger.Info().
		Str("policy", policyPath).
		Str("runid", id).
		Str("root", root).
		Str("broker", policy.BrokerAddr()).
		Msg("Job office configuration loaded")

	brk, err := broker.NewRedisBroker(policy.BrokerAddr(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to broker")
		return exitFatal
	}
	defer brk.Close()

	bb, err := blackboard.Open(root, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open blackboard")
		return exitFatal
	}

	office, err := joboffice.New(policy, id, common.NewOriginatorID(), bb, brk, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build job office")
		return exitFatal
	}
	office.Start()

	joined := make(chan error, 1)
	go func() { joined <- office.Join() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received, stopping job office")
		office.Stop()
		err = <-joined
	case err = <-joined:
	}

	if err != nil {
		logger.Error().Err(err).Msg("Job office exited with error")
		return exitFatal
	}
	logger.Info().Msg("Job office stopped")
	return exitOK
}

func splitOutputs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
