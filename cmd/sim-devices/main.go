package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/chronomesh/chronomesh/internal/fleetsim"
	"github.com/chronomesh/chronomesh/pkg/logger"
)

// Default configuration constants.
const (
	defaultDevices    = 5
	defaultMaxSkew    = 500 * time.Millisecond
	defaultLatency    = 5 * time.Millisecond
	defaultLeadTime   = 500 * time.Millisecond
	defaultSimTimeout = 2 * time.Minute
)

func main() {
	var (
		devices  = flag.Int("devices", defaultDevices, "Number of simulated devices")
		maxSkew  = flag.Duration("skew", defaultMaxSkew, "Maximum absolute clock skew per device")
		latency  = flag.Duration("latency", defaultLatency, "One-way transport latency")
		leadTime = flag.Duration("lead", defaultLeadTime, "Requested coordinated-start lead time")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fleetsim.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSimTimeout)
	defer cancel()

	cfg := &fleetsim.Config{
		Devices:  *devices,
		MaxSkew:  *maxSkew,
		Latency:  *latency,
		LeadTime: *leadTime,
		Verbose:  *verbose,
	}

	if err := fleetsim.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return
	}
}
