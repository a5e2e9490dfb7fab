package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"crashDbg/config"
	"crashDbg/debugevent"
	"crashDbg/session"
	"crashDbg/termlog"
)

// target is what the debugger was asked to debug: a running process or a
// command line to launch.
type target struct {
	pid   int
	event uint64
	argv  []string
}

// backend is a platform debugger wired up for a session.
type backend struct {
	source debugevent.Source
	session.Backend
	signal session.Signaler
	close  func() error
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("crashDbg", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	configPath := flagSet.StringP("config", "c", "", "YAML config `file`")
	pid := flagSet.IntP("pid", "p", 0, "attach to the running process `pid`")
	event := flagSet.Uint64P("event", "e", 0, "event `handle` to signal once attached (windows)")
	config.RegisterFlags(flagSet)
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	tgt := target{pid: *pid, event: *event, argv: flagSet.Args()}
	if (tgt.pid == 0) == (len(tgt.argv) == 0) {
		printHelp(flagSet)
		return errors.New("specify either -p PID or a program to launch")
	}

	path := *configPath
	if path == "" {
		path = os.Getenv(config.ConfigEnv)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(flagSet); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := termlog.NewSink(os.Stdout, cfg.Color)
	log := termlog.NewLogger(termlog.NewSink(os.Stderr, cfg.Color), cfg.TraceEvents)

	be, err := openBackend(tgt, out, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	src := be.source
	if cfg.RecordPath != "" {
		f, err := os.Create(cfg.RecordPath)
		if err != nil {
			return fmt.Errorf("create event record: %w", err)
		}
		defer f.Close()
		src = debugevent.NewRecorder(src, f)
	}

	if tgt.pid != 0 {
		out.Printf("attached to PID:%d\n", tgt.pid)
	} else {
		out.Printf("%s started\n", tgt.argv[0])
	}

	sess := session.New(src, be.Backend, cfg.SessionOptions(be.signal), out, log)
	return sess.Run()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `crashDbg reports crashes of a program: the faulting exception, the
instruction at fault and symbolized backtraces.

Usage:
  crashDbg [flags] -- program [args...]
  crashDbg [flags] -p PID [-e EVENT]

Flags:
%s`, flagSet.FlagUsages())
}
