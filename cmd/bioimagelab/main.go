// Command bioimagelab runs image analysis pipelines over microscopy images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bioimagelab/internal/logging"
	"bioimagelab/pkg/catalog"
	"bioimagelab/pkg/config"
	"bioimagelab/pkg/imageio"
	"bioimagelab/pkg/pipeline"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailures  = 1
	exitConfig    = 2
	exitIO        = 3
	exitUsage     = 64
	exitCancelled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: bioimagelab <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  run      process images with a pipeline definition")
	fmt.Fprintln(w, "  stages   list the available stages and their options")
	fmt.Fprintln(w, "  config   write a default configuration file")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "run":
		return runPipeline(ctx, args[1:], stdout, stderr)
	case "stages":
		return listStages(stdout)
	case "config":
		return writeConfig(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

type runFlags struct {
	pipeline  string
	input     string
	output    string
	config    string
	workers   int
	stack     bool
	logLevel  string
	logFormat string
}

func parseRunFlags(args []string, stderr io.Writer) (*runFlags, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &runFlags{}
	fs.StringVar(&f.pipeline, "pipeline", "", "Pipeline definition file (YAML)")
	fs.StringVar(&f.input, "input", "", "Input image file or directory")
	fs.StringVar(&f.output, "output", "", "Output directory")
	fs.StringVar(&f.config, "config", "", "Application configuration file (YAML)")
	fs.IntVar(&f.workers, "workers", 0, "Number of images processed concurrently (default: config, else all CPUs)")
	fs.BoolVar(&f.stack, "stack", false, "Treat the files of an input directory as the Z planes of one image")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: console or json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.pipeline == "" || f.input == "" || f.output == "" {
		fs.Usage()
		return nil, errors.New("--pipeline, --input and --output are required")
	}
	return f, nil
}

func runPipeline(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseRunFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg := config.DefaultConfig()
	if f.config != "" {
		if cfg, err = config.LoadConfig(f.config); err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfig
		}
	}
	if f.workers > 0 {
		cfg.Processing.Workers = f.workers
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	log, err := logging.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}

	spec, err := pipeline.LoadSpecFile(f.pipeline)
	if err != nil {
		log.Error().Err(err).Str("pipeline", f.pipeline).Msg("invalid pipeline")
		return exitConfig
	}
	reg, err := catalog.NewRegistry(catalog.Options{CancelCheckInterval: cfg.Processing.CancelCheckInterval})
	if err != nil {
		log.Error().Err(err).Msg("building stage registry")
		return exitConfig
	}
	plan, err := pipeline.Compile(spec, reg)
	if err != nil {
		log.Error().Err(err).Str("pipeline", f.pipeline).Msg("invalid pipeline")
		return exitConfig
	}

	sources, err := collectSources(f.input, f.stack, cfg)
	if err != nil {
		log.Error().Err(err).Str("input", f.input).Msg("reading input")
		return exitIO
	}
	if err := os.MkdirAll(f.output, 0755); err != nil {
		log.Error().Err(err).Str("output", f.output).Msg("creating output directory")
		return exitIO
	}

	orch := pipeline.NewOrchestrator(reg,
		pipeline.WithWorkers(cfg.Processing.Workers),
		pipeline.WithLogger(log),
	)
	summary := orch.Execute(ctx, plan, sources)

	if err := export(context.WithoutCancel(ctx), f.output, cfg, summary, logging.Component(log, "export")); err != nil {
		log.Error().Err(err).Str("output", f.output).Msg("writing results")
		return exitIO
	}
	report(stdout, summary)

	switch {
	case summary.Cancelled:
		return exitCancelled
	case summary.Failed() > 0:
		return exitFailures
	default:
		return exitOK
	}
}

func collectSources(input string, stack bool, cfg *config.Config) ([]pipeline.Source, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	cal := cfg.Calibration()
	if !info.IsDir() {
		return []pipeline.Source{imageio.FileSource{Path: input, Calibration: cal}}, nil
	}
	paths, err := imageio.ListImages(input, cfg.Input.Extensions)
	if err != nil {
		return nil, err
	}
	if stack {
		return []pipeline.Source{imageio.SliceSource{ID: filepath.Base(filepath.Clean(input)), Paths: paths, Calibration: cal}}, nil
	}
	sources := make([]pipeline.Source, len(paths))
	for i, p := range paths {
		sources[i] = imageio.FileSource{Path: p, Calibration: cal}
	}
	return sources, nil
}

func report(w io.Writer, s *pipeline.RunSummary) {
	fmt.Fprintf(w, "run %s: %d succeeded, %d failed, %d skipped\n", s.RunID, s.Succeeded(), s.Failed(), s.Skipped())
	for _, r := range s.Failures() {
		fmt.Fprintf(w, "  FAILED %s [%s] step %d (%s): %s\n", r.Source, r.Kind, r.FailedStep, r.Stage, r.Cause)
	}
	if s.Cancelled {
		fmt.Fprintln(w, "run cancelled")
	}
}

func listStages(w io.Writer) int {
	stages := catalog.Builtins(catalog.Options{})
	reg, err := catalog.NewRegistry(catalog.Options{})
	if err != nil {
		fmt.Fprintln(w, err)
		return exitConfig
	}
	for _, id := range reg.IDs() {
		s := stages[id]
		fmt.Fprintf(w, "%s (%s)\n", id, s.Category())
		for _, p := range s.Params() {
			line := fmt.Sprintf("    %-20s %-10s default %v", p.Name, p.Kind, p.Default)
			if len(p.Choices) > 0 {
				line += fmt.Sprintf(" choices %v", p.Choices)
			}
			if p.Help != "" {
				line += "  " + p.Help
			}
			fmt.Fprintln(w, line)
		}
	}
	return exitOK
}

func writeConfig(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("output", "bioimagelab.yaml", "Configuration file to write")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if err := config.CreateDefaultConfigFile(*out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitIO
	}
	fmt.Fprintf(stdout, "default configuration written to %s\n", *out)
	return exitOK
}
