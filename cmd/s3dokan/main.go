package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/s3dokan/errkind"
	"github.com/bitrise-io/s3dokan/pipeline"
	"github.com/bitrise-io/s3dokan/storage"
)

const (
	version   = "0.3.0"
	copyright = "Copyright (c) 2024 Bitrise"
)

// Command is one of the fixed set of subcommands.
type Command int

// Commands
const (
	Sink Command = iota
	Source
	List
	Size
	Fetch
)

var commandNames = map[Command]string{
	Sink:   "sink",
	Source: "source",
	List:   "list",
	Size:   "size",
	Fetch:  "fetch",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

func parseCommand(name string) (Command, bool) {
	for c, n := range commandNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

type options struct {
	profile      string
	region       string
	endpoint     string
	pathStyle    bool
	workers      int
	blockSizeMiB int
	verbose      bool
	version      bool
}

type storeFactory func(ctx context.Context, params storage.S3Params, logger log.Logger) (storage.Store, error)

type app struct {
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	envRepo  env.Repository
	logger   log.Logger
	newStore storeFactory
	// token is created per run when nil.
	token *pipeline.CancelToken
}

func main() {
	// Data goes to the real stdout, every log line to stderr.
	stdout := os.Stdout
	os.Stdout = os.Stderr

	a := &app{
		stdin:   os.Stdin,
		stdout:  stdout,
		stderr:  os.Stderr,
		envRepo: env.NewRepository(),
		logger:  log.NewLogger(),
		newStore: func(ctx context.Context, params storage.S3Params, logger log.Logger) (storage.Store, error) {
			return storage.NewS3Store(ctx, params, logger)
		},
	}
	os.Exit(a.run(os.Args[1:]))
}

func (a *app) printUsage() {
	fmt.Fprintln(a.stderr, `Usage: s3dokan [options] <command> <s3url> [args]

Commands:
  sink <s3url>           Upload stdin to the object
  source <s3url>         Write the object to stdout
  list <s3url>           List the keys under the prefix
  size <s3url>           Print the size of the object in bytes
  fetch <s3url> <path>   Download the object to a local file

Options:`)
}

func (a *app) envOr(fallback string, keys ...string) string {
	for _, key := range keys {
		if value := a.envRepo.Get(key); value != "" {
			return value
		}
	}
	return fallback
}

func (a *app) envIntOr(fallback int, key string) (int, error) {
	value := a.envRepo.Get(key)
	if value == "" {
		return fallback, nil
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %s is not a number", key, value)
	}
	return i, nil
}

func (a *app) parseOptions(args []string) (options, []string, error) {
	defaultWorkers, err := a.envIntOr(pipeline.DefaultConfig().Workers, "S3DOKAN_NPROC")
	if err != nil {
		return options{}, nil, err
	}
	defaultBlockSize, err := a.envIntOr(pipeline.MinBlockSizeMiB, "S3DOKAN_BS")
	if err != nil {
		return options{}, nil, err
	}

	var opts options
	fs := flag.NewFlagSet("s3dokan", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&opts.profile, "profile", a.envOr("", "S3DOKAN_PROFILE", "AWS_PROFILE"), "AWS credential profile")
	fs.StringVar(&opts.region, "region", a.envOr("", "AWS_REGION"), "AWS region")
	fs.StringVar(&opts.endpoint, "endpoint", a.envOr("", "S3DOKAN_ENDPOINT"), "S3 compatible endpoint URL")
	fs.BoolVar(&opts.pathStyle, "path-style", false, "Use path style bucket addressing")
	fs.IntVar(&opts.workers, "nproc", defaultWorkers, "Number of parallel transfers")
	fs.IntVar(&opts.blockSizeMiB, "bs", defaultBlockSize, fmt.Sprintf("Block size in MiB (%d-%d)", pipeline.MinBlockSizeMiB, pipeline.MaxBlockSizeMiB))
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&opts.version, "v", false, "Print the version")
	fs.BoolVar(&opts.version, "version", false, "Print the version")
	fs.Usage = func() {
		a.printUsage()
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	return opts, fs.Args(), nil
}

func (a *app) run(args []string) int {
	opts, rest, err := a.parseOptions(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errkind.ExitSuccess
		}
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return errkind.ExitUsage
	}

	if opts.version {
		fmt.Fprintf(a.stderr, "s3dokan %s\n%s\n", version, copyright)
		return errkind.ExitSuccess
	}

	if len(rest) == 0 {
		a.printUsage()
		return errkind.ExitUsage
	}

	cmd, ok := parseCommand(rest[0])
	if !ok {
		fmt.Fprintf(a.stderr, "Unknown command: %s\n", rest[0])
		a.printUsage()
		return errkind.ExitUsage
	}

	blockSize, err := pipeline.BlockSizeFromMiB(opts.blockSizeMiB)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return errkind.ExitUsage
	}
	config := pipeline.Config{Workers: opts.workers, BlockSize: blockSize}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return errkind.ExitUsage
	}

	inv, err := a.parseInvocation(cmd, rest[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errkind.ExitSuccess
		}
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return errkind.ExitUsage
	}

	a.logger.EnableDebugLog(opts.verbose)

	token := a.token
	if token == nil {
		token = pipeline.NewCancelToken(context.Background())
		defer token.Release()

		stop := token.CancelOnSignal(func(os.Signal) {
			a.logger.Warnf("terminating...")
		}, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	store, err := a.newStore(token.Context(), storage.S3Params{
		Profile:         opts.profile,
		Region:          opts.region,
		Endpoint:        opts.endpoint,
		AccessKeyID:     a.envRepo.Get("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: a.envRepo.Get("AWS_SECRET_ACCESS_KEY"),
		UsePathStyle:    opts.pathStyle,
	}, a.logger)
	if err != nil {
		a.logger.Errorf("%s", err)
		return errkind.ExitFailure
	}

	return a.report(a.dispatch(token, store, config, inv))
}

func (a *app) report(err error) int {
	switch {
	case err == nil:
	case errors.Is(err, errkind.ErrInterrupted):
		if cleanupErr := errkind.CleanupError(err); cleanupErr != nil {
			a.logger.Warnf("%s", cleanupErr)
		}
	default:
		a.logger.Errorf("%s", err)
	}
	return errkind.ExitCode(err)
}
