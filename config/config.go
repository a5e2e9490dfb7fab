// Package config loads the debugger configuration.
//
// Values are layered: built-in defaults, then the YAML file named by
// --config or CRASHDBG_CONFIG, then CRASHDBG_* environment variables, then
// command line flags the user set explicitly.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"crashDbg/session"
	"crashDbg/termlog"
)

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "CRASHDBG_CONFIG"

const (
	maxFramesLimit  = 4096
	stackWordsLimit = 512
)

type Config struct {
	// TraceEvents logs every debug notification as it arrives.
	TraceEvents bool `yaml:"trace_events" env:"CRASHDBG_TRACE_EVENTS"`

	// ReportFirstChance captures first-chance exceptions instead of
	// leaving them to the program's own handlers.
	ReportFirstChance bool `yaml:"first_chance" env:"CRASHDBG_FIRST_CHANCE"`

	// CaptureAttachBreakpoint treats the attach breakpoint as an ordinary
	// exception.
	CaptureAttachBreakpoint bool `yaml:"capture_attach_breakpoint" env:"CRASHDBG_CAPTURE_ATTACH_BREAKPOINT"`

	// Verbose dumps every thread on capture and turns on the symbol
	// provider's diagnostics.
	Verbose bool `yaml:"verbose" env:"CRASHDBG_VERBOSE"`

	// MaxFrames bounds each backtrace.
	MaxFrames int `yaml:"max_frames" env:"CRASHDBG_MAX_FRAMES"`

	// StackWords is the number of stack slots listed after each
	// backtrace.
	StackWords int `yaml:"stack_words" env:"CRASHDBG_STACK_WORDS"`

	// RecordPath, when set, receives the CBOR encoded event stream.
	RecordPath string `yaml:"record" env:"CRASHDBG_RECORD"`

	Color termlog.ColorMode `yaml:"color" env:"CRASHDBG_COLOR"`
}

func Default() *Config {
	return &Config{
		MaxFrames:  64,
		StackWords: 8,
		Color:      termlog.ColorAuto,
	}
}

// Load builds the configuration from defaults, the file at path (skipped
// when empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// RegisterFlags defines the flags ApplyFlags understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.BoolP("debug", "d", false, "log every debug event")
	fs.BoolP("first-chance", "1", false, "capture first-chance exceptions")
	fs.BoolP("breakpoint", "b", false, "capture the attach breakpoint")
	fs.BoolP("verbose", "v", false, "dump all threads and show symbol diagnostics")
	fs.Int("max-frames", 64, "maximum frames per backtrace")
	fs.Int("stack-words", 8, "stack slots listed after each backtrace")
	fs.String("record", "", "record the debug event stream to `file`")
	fs.String("color", string(termlog.ColorAuto), "color output: auto, always or never")
}

// ApplyFlags overrides c with the flags set on the command line.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "debug":
			c.TraceEvents, err = fs.GetBool(f.Name)
		case "first-chance":
			c.ReportFirstChance, err = fs.GetBool(f.Name)
		case "breakpoint":
			c.CaptureAttachBreakpoint, err = fs.GetBool(f.Name)
		case "verbose":
			c.Verbose, err = fs.GetBool(f.Name)
		case "max-frames":
			c.MaxFrames, err = fs.GetInt(f.Name)
		case "stack-words":
			c.StackWords, err = fs.GetInt(f.Name)
		case "record":
			c.RecordPath, err = fs.GetString(f.Name)
		case "color":
			var mode string
			mode, err = fs.GetString(f.Name)
			c.Color = termlog.ColorMode(mode)
		}
	})
	return err
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxFrames < 1 || c.MaxFrames > maxFramesLimit {
		errs = append(errs, fmt.Errorf("max_frames must be between 1 and %d, got %d", maxFramesLimit, c.MaxFrames))
	}

	if c.StackWords < 0 || c.StackWords > stackWordsLimit {
		errs = append(errs, fmt.Errorf("stack_words must be between 0 and %d, got %d", stackWordsLimit, c.StackWords))
	}

	switch c.Color {
	case termlog.ColorAuto, termlog.ColorAlways, termlog.ColorNever:
	default:
		errs = append(errs, fmt.Errorf("color must be one of auto, always, never: %q", c.Color))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SessionOptions derives the options of a debug session.
func (c *Config) SessionOptions(signal session.Signaler) session.Options {
	return session.Options{
		TraceEvents:             c.TraceEvents,
		ReportFirstChance:       c.ReportFirstChance,
		CaptureAttachBreakpoint: c.CaptureAttachBreakpoint,
		DumpAllThreads:          c.Verbose,
		VerboseSymbols:          c.Verbose,
		AttachSignal:            signal,
	}
}
