// FlowCon manages CPU shares across a fleet of concurrently running ML
// training job containers on a single host, implementing Algorithm 1's
// periodic reconcile/classify/redistribute control loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowcon/flowcon/pkg/config"
	"github.com/flowcon/flowcon/pkg/joblist"
	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/metrics"
	"github.com/flowcon/flowcon/pkg/runtime"
	"github.com/flowcon/flowcon/pkg/trial"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliConfig struct {
	command    string
	configPath string
	configOut  string

	name             string
	alpha            float64
	interval         int
	statsInterval    int
	listenerInterval int
	coreCount        int
	noAlgo           bool
	noUpdate         bool
	outputDir        string
	jobSpacing       int

	logLevel string
	version  bool
	help     bool
}

func main() {
	cliCfg := parseFlags()

	if cliCfg.version {
		printVersion()
		return
	}
	if cliCfg.help || cliCfg.command == "" {
		printHelp()
		return
	}

	switch cliCfg.command {
	case "init":
		runInitCommand(cliCfg)
	case "run":
		runRunCommand(cliCfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cliCfg.command)
		printHelp()
		os.Exit(1)
	}
}

func runInitCommand(cliCfg cliConfig) {
	outputPath := cliCfg.configOut
	if outputPath == "" {
		outputPath = "flowcon.toml"
	}
	if err := config.GenerateExampleConfig(outputPath); err != nil {
		log.Fatalf("failed to generate example config: %v", err)
	}
	log.Printf("example configuration written to: %s", outputPath)
	log.Println("edit it, then run: flowcon run <joblist.csv> -config " + outputPath)
}

func runRunCommand(cliCfg cliConfig) {
	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("usage: flowcon run <joblist.csv> [flags]")
	}
	joblistPath := args[1]

	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyOverrides(cfg, cliCfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Printf("warning: failed to initialize structured logger: %v", err)
	}
	lg := logger.Global().WithComponent("main").WithExperiment(cfg.Trial.Name)

	lg.Info("starting flowcon", "version", version, "build_time", buildTime)

	rt, err := runtime.New(runtime.Config{
		Host:               cfg.Docker.Host,
		APIVersion:         cfg.Docker.APIVersion,
		CallTimeout:        cfg.CallTimeout(),
		RateLimitPerSecond: cfg.Docker.RateLimitPerSecond,
	})
	if err != nil {
		log.Fatalf("failed to connect to container runtime: %v", err)
	}
	defer rt.Close()

	jobs, err := joblist.Load(joblistPath)
	if err != nil {
		log.Fatalf("failed to load joblist: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spacing := time.Duration(cliCfg.jobSpacing) * time.Second
	if _, err := joblist.LaunchAll(ctx, rt, jobs, spacing); err != nil {
		log.Fatalf("failed to launch jobs: %v", err)
	}
	lg.Info("launched jobs", "count", len(jobs))

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				lg.Warn("metrics server stopped", "error", err)
			}
		}()
		lg.Info("metrics endpoint enabled", "addr", cfg.Metrics.ListenAddr)
	}

	tr, err := trial.New(rt, trial.Config{
		Name:             cfg.Trial.Name,
		Alpha:            cfg.Trial.Alpha,
		Interval:         cfg.Interval(),
		StatsInterval:    cfg.StatsInterval(),
		ListenerInterval: cfg.ListenerInterval(),
		CoreCount:        cfg.ResolvedCoreCount(),
		NoAlgo:           cfg.Trial.NoAlgo,
		NoUpdate:         cfg.Trial.NoUpdate,
		OutputDir:        cliCfg.outputDir,
	})
	if err != nil {
		log.Fatalf("failed to create trial: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("shutdown signal received, draining trial")
		cancel()
	}()

	if err := tr.Run(ctx); err != nil {
		log.Fatalf("trial run failed: %v", err)
	}
	lg.Info("flowcon stopped")
}

func applyOverrides(cfg *config.Config, cliCfg cliConfig) {
	if cliCfg.name != "" {
		cfg.Trial.Name = cliCfg.name
	}
	if cliCfg.alpha > 0 {
		cfg.Trial.Alpha = cliCfg.alpha
	}
	if cliCfg.interval > 0 {
		cfg.Trial.IntervalSeconds = cliCfg.interval
	}
	if cliCfg.statsInterval > 0 {
		cfg.Trial.StatsIntervalSeconds = cliCfg.statsInterval
	}
	if cliCfg.listenerInterval > 0 {
		cfg.Trial.ListenerIntervalSeconds = cliCfg.listenerInterval
	}
	if cliCfg.coreCount > 0 {
		cfg.Trial.CoreCount = cliCfg.coreCount
	}
	if cliCfg.noAlgo {
		cfg.Trial.NoAlgo = true
	}
	if cliCfg.noUpdate {
		cfg.Trial.NoUpdate = true
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}
}

func parseFlags() cliConfig {
	var cfg cliConfig

	flag.StringVar(&cfg.configPath, "config", "", "path to configuration file")
	flag.StringVar(&cfg.configOut, "out", "", "output path for 'init' command")

	flag.StringVar(&cfg.name, "name", "", "experiment name (overrides config)")
	flag.Float64Var(&cfg.alpha, "a", 0, "growth efficiency threshold alpha (overrides config)")
	flag.IntVar(&cfg.interval, "i", 0, "control loop interval in seconds (overrides config)")
	flag.IntVar(&cfg.statsInterval, "docker_stats_interval", 0, "stats sampler interval in seconds (overrides config)")
	flag.IntVar(&cfg.listenerInterval, "listener_interval", 0, "liveness listener interval in seconds (overrides config)")
	flag.IntVar(&cfg.coreCount, "cores", 0, "CPU core count override (0 = autodetect)")
	flag.BoolVar(&cfg.noAlgo, "no_algo", false, "disable the control algorithm; reconcile only")
	flag.BoolVar(&cfg.noUpdate, "no_update", false, "classify but never write CPU limits through")
	flag.StringVar(&cfg.outputDir, "output_dir", ".", "directory for exported trial output")
	flag.IntVar(&cfg.jobSpacing, "spacing", 0, "seconds to sleep between launching each job")

	flag.StringVar(&cfg.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&cfg.version, "version", false, "print version and exit")
	flag.BoolVar(&cfg.help, "help", false, "show help message")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		cfg.command = args[0]

		// Flags may follow the command and its positional arguments
		// ("run jobs.csv -config flowcon.toml"): keep parsing past each
		// positional, then leave only the positionals in flag.Args().
		positional := []string{args[0]}
		rest := args[1:]
		for len(rest) > 0 {
			_ = flag.CommandLine.Parse(rest)
			rest = flag.Args()
			if len(rest) > 0 {
				positional = append(positional, rest[0])
				rest = rest[1:]
			}
		}
		_ = flag.CommandLine.Parse(positional)
	}
	return cfg
}

func printVersion() {
	fmt.Printf("flowcon v%s\n", version)
	fmt.Printf("build time: %s\n", buildTime)
}

func printHelp() {
	helpText := `USAGE:
    flowcon <command> [flags]

COMMANDS:
    init              Generate an example configuration file
    run <joblist.csv> Launch the jobs in joblist.csv and start the control loop

FLAGS:
    -config string              Path to configuration file
    -out string                 Output path for 'init' command
    -name string                Experiment name (overrides config)
    -a float                    Growth efficiency threshold alpha
    -i int                      Control loop interval in seconds
    -docker_stats_interval int  Stats sampler interval in seconds
    -listener_interval int      Liveness listener interval in seconds
    -cores int                  CPU core count override (0 = autodetect)
    -no_algo                    Disable the control algorithm; reconcile only
    -no_update                  Classify but never write CPU limits through
    -output_dir string          Directory for exported trial output
    -spacing int                Seconds to sleep between launching each job
    -log-level string           Log level: debug, info, warn, error
    -version                    Print version and exit
    -help                       Show this help message

EXAMPLES:
    flowcon init -out flowcon.toml
    flowcon run jobs.csv -config flowcon.toml -name my-trial
`
	fmt.Print(helpText)
}
