package main

import (
	"flag"
	"fmt"

	"github.com/docker/go-units"

	"github.com/bitrise-io/s3dokan/pipeline"
	"github.com/bitrise-io/s3dokan/storage"
)

// invocation is a parsed subcommand line.
type invocation struct {
	cmd   Command
	url   string
	dest  string
	match string
	human bool
}

func (a *app) parseInvocation(cmd Command, args []string) (invocation, error) {
	inv := invocation{cmd: cmd}

	fs := flag.NewFlagSet(cmd.String(), flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	positional := []string{"s3url"}
	switch cmd {
	case List:
		fs.StringVar(&inv.match, "match", "", "Only list keys matching this glob pattern")
	case Size:
		fs.BoolVar(&inv.human, "human", false, "Print the size in human readable form")
	case Fetch:
		positional = append(positional, "path")
	}

	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: s3dokan %s [options]", cmd)
		for _, p := range positional {
			fmt.Fprintf(a.stderr, " <%s>", p)
		}
		fmt.Fprintln(a.stderr)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return invocation{}, err
	}

	if fs.NArg() != len(positional) {
		fs.Usage()
		return invocation{}, fmt.Errorf("%s: expected %d argument(s), got %d", cmd, len(positional), fs.NArg())
	}

	inv.url = fs.Arg(0)
	if cmd == Fetch {
		inv.dest = fs.Arg(1)
	}
	return inv, nil
}

func (a *app) dispatch(token *pipeline.CancelToken, store storage.Store, config pipeline.Config, inv invocation) error {
	ctx := token.Context()

	switch inv.cmd {
	case Sink:
		return pipeline.NewSession(store, config, a.logger).Sink(token, inv.url, a.stdin)
	case Source:
		return pipeline.NewSession(store, config, a.logger).Source(token, inv.url, a.stdout)
	case List:
		keys, err := pipeline.List(ctx, store, inv.url, inv.match)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintln(a.stdout, key)
		}
		return nil
	case Size:
		size, err := pipeline.Size(ctx, store, inv.url)
		if err != nil {
			return err
		}
		if inv.human {
			fmt.Fprintln(a.stdout, units.HumanSize(float64(size)))
		} else {
			fmt.Fprintln(a.stdout, size)
		}
		return nil
	case Fetch:
		_, err := pipeline.Fetch(ctx, store, inv.url, inv.dest, config, a.logger)
		return err
	default:
		return fmt.Errorf("unhandled command: %s", inv.cmd)
	}
}
