package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/cardswap/allocator"
	"github.com/luca-patrignani/cardswap/config"
	"github.com/luca-patrignani/cardswap/peer"
)

const usage = `usage:
  %[1]s index                 run the allocator
  %[1]s peer [allocator]      run a trading peer; allocator is host[:port],
                              where host may be a partial address like "42"
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "index":
		runIndex(ctx)
	case "peer":
		runPeer(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
}

// newLogger routes slog through the pterm logger at the given level.
func newLogger(level string) *slog.Logger {
	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(parseLevel(level)))
	return slog.New(handler)
}

func parseLevel(level string) pterm.LogLevel {
	switch strings.ToLower(level) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	}
	return pterm.LogLevelInfo
}

func banner() {
	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Card", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("Swap", pterm.FgDarkGray.ToStyle()),
	).Render()
}

func runIndex(ctx context.Context) {
	cfg, err := config.LoadIndex()
	if err != nil {
		config.Exitf("invalid configuration: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	banner()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		config.Exitf("listen on %s: %v", addr, err)
	}
	s, err := allocator.NewServer(l, allocator.Config{
		TotalPeers: cfg.TotalClients,
		HandSize:   cfg.HandSize,
		StartDelay: cfg.StartDelay,
		Logger:     logger,
	})
	if err != nil {
		_ = l.Close()
		config.Exitf("allocator: %v", err)
	}
	pterm.Info.Printfln("Listening on %s, waiting for %d peers", s.Addr(), cfg.TotalClients)

	if err := s.Serve(ctx); err != nil {
		logger.Error("allocator stopped", "err", err)
		os.Exit(1)
	}
	printCohort(s.Registry())
	pterm.Success.Printfln("Every peer received its hand, turns start at %s", s.Epoch().Format("15:04:05.000"))
}

func runPeer(ctx context.Context, args []string) {
	cfg, err := config.LoadPeer()
	if err != nil {
		config.Exitf("invalid configuration: %v", err)
	}
	if len(args) > 0 {
		host, port, err := allocatorAddr(args[0], cfg)
		if err != nil {
			config.Exitf("invalid allocator address %q: %v", args[0], err)
		}
		cfg.IndexIP, cfg.IndexPort = host, port
	}
	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		config.Exitf("tuning: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	banner()
	pterm.Info.Printfln("Peer %s, allocator at %s", pterm.LightCyan(cfg.Name), net.JoinHostPort(cfg.IndexIP, strconv.Itoa(cfg.IndexPort)))

	spinner, _ := pterm.DefaultSpinner.Start("Joining the cohort ...")
	waits := 0
	r, err := peer.New(cfg, tuning,
		peer.WithLogger(logger),
		peer.WithWaitingHook(func() {
			waits++
			spinner.UpdateText(fmt.Sprintf("Waiting for the other peers (%ds) ...", waits))
		}),
	)
	if err != nil {
		spinner.Fail(err.Error())
		os.Exit(1)
	}
	if err := r.Join(ctx); err != nil {
		spinner.Fail(err.Error())
		os.Exit(1)
	}
	spinner.Success(fmt.Sprintf("Joined with turn %d of %d", r.Turn(), r.Directory().Len()))
	printDirectory(r.Directory(), cfg.Name)

	rep, err := r.Run(ctx)
	printReport(rep)
	if err != nil {
		logger.Error("peer stopped", "err", err)
		os.Exit(1)
	}
}
