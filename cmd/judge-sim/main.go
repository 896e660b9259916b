package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/tabulator/internal/judgesim"
	"github.com/okian/tabulator/pkg/logger"
)

func main() {
	var (
		apiURL  = flag.String("api", "http://localhost:8080", "Base URL of the API")
		wsURL   = flag.String("ws", "ws://localhost:8080/ws", "Websocket URL of the fan-out hub")
		judges  = flag.String("judges", "", "Comma separated judge ids to play")
		think   = flag.Duration("think", judgesim.DefaultThinkTime, "Upper bound of the random delay before submitting")
		timeout = flag.Duration("timeout", judgesim.DefaultTimeout, "HTTP request timeout")
		seed    = flag.Uint64("seed", 0, "Random seed (default: from the clock)")
		logFile = flag.String("log", "", "Also write logs to this file")
		verbose = flag.Bool("verbose", false, "Enable debug logging")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		judgesim.ShowHelp()
		return
	}

	if err := judgesim.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ids, err := judgesim.ParseJudgeIDs(*judges)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &judgesim.Config{
		APIURL:    *apiURL,
		WSURL:     *wsURL,
		JudgeIDs:  ids,
		ThinkTime: *think,
		Timeout:   *timeout,
		Seed:      *seed,
	}
	if _, err := judgesim.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}
