// lifeline command-line entry point.
//
// Usage:
//
//	lifeline resolve "Ubuntu 22.04 LTS Desktop"   # resolve one item
//	lifeline status                               # cache + metrics snapshot
//	lifeline verify ubuntu:22.04                  # mark an answer verified
//	lifeline clear [key|all]                      # invalidate cache entries
//	lifeline warm inventory.txt                   # one full discovery pass
//	lifeline history                              # recent source responses
//	lifeline version
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	lifeline "github.com/lifeline-sh/lifeline"
	"github.com/lifeline-sh/lifeline/config"
	"github.com/lifeline-sh/lifeline/discovery"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	if cmd == "version" {
		fmt.Printf("lifeline %s\n", version)
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	timeout := fs.Duration("timeout", 60*time.Second, "command timeout")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fatal("load config", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fatal("build logger", err)
	}
	defer logger.Sync() //nolint:errcheck

	engine, err := lifeline.New(cfg, logger)
	if err != nil {
		fatal("start engine", err)
	}
	defer engine.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "resolve":
		if fs.NArg() < 1 {
			fatal("resolve", errors.New("usage: lifeline resolve <raw text>"))
		}
		res, err := engine.Resolve(ctx, fs.Arg(0))
		if err != nil {
			fatal("resolve", err)
		}
		printJSON(res)

	case "status":
		printJSON(engine.Status(ctx))

	case "verify":
		if fs.NArg() < 1 {
			fatal("verify", errors.New("usage: lifeline verify <cache key>"))
		}
		err := engine.Verify(ctx, fs.Arg(0))
		switch {
		case errors.Is(err, lifeline.ErrNotFound):
			fmt.Println("not_found")
			os.Exit(1)
		case err != nil:
			fatal("verify", err)
		default:
			fmt.Println("ok")
		}

	case "clear":
		scope := "all"
		if fs.NArg() > 0 {
			scope = fs.Arg(0)
		}
		n, err := engine.Clear(ctx, scope)
		if err != nil {
			fatal("clear", err)
		}
		fmt.Printf("cleared %d entries\n", n)

	case "warm":
		if fs.NArg() < 1 {
			fatal("warm", errors.New("usage: lifeline warm <inventory file>"))
		}
		items, err := readInventory(fs.Arg(0))
		if err != nil {
			fatal("warm", err)
		}
		sched := discovery.NewScheduler(
			discovery.NewStaticInventory(items),
			discovery.ResolverFunc(engine.WarmResolver()),
			discovery.Config{
				FullInterval:        cfg.Discovery.FullInterval,
				IncrementalInterval: cfg.Discovery.IncrementalInterval,
				HistorySize:         cfg.Discovery.HistorySize,
			},
			logger,
		)
		printJSON(sched.RunFull(ctx))

	case "history":
		printJSON(engine.History())

	default:
		usage()
		os.Exit(2)
	}
}

func readInventory(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			items = append(items, line)
		}
	}
	return items, scanner.Err()
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode output", err)
	}
	fmt.Println(string(data))
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "lifeline: %s: %v\n", what, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `lifeline - software lifecycle resolution engine

Usage:
  lifeline <command> [flags] [args]

Commands:
  resolve <raw text>     resolve one inventory item
  status                 cache occupancy, store readiness, metrics
  verify <cache key>     mark a cached answer as verified
  clear [key|all]        invalidate cache entries
  warm <inventory file>  run one full discovery pass
  history                recent source responses
  version                print version

Flags:
  -config string    path to YAML config file
  -timeout duration command timeout (default 1m)
`)
}
