package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"crashDbg/termlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crashdbg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "first_chance: true\nmax_frames: 16\ncolor: never\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.ReportFirstChance)
	require.Equal(t, 16, cfg.MaxFrames)
	require.Equal(t, termlog.ColorNever, cfg.Color)
	require.False(t, cfg.TraceEvents)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "max_frames: [\n"))
	require.Error(t, err)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, "max_frames: 16\nverbose: true\nrecord: file.cbor\n")
	t.Setenv("CRASHDBG_MAX_FRAMES", "32")
	t.Setenv("CRASHDBG_TRACE_EVENTS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 32, cfg.MaxFrames)
	require.True(t, cfg.TraceEvents)
	require.True(t, cfg.Verbose)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-frames", "8", "-1", "--color=always", "--stack-words", "0"}))
	require.NoError(t, cfg.ApplyFlags(fs))

	require.Equal(t, 8, cfg.MaxFrames)
	require.True(t, cfg.ReportFirstChance)
	require.Equal(t, termlog.ColorAlways, cfg.Color)
	require.Equal(t, 0, cfg.StackWords)
	// Flags left at their defaults do not override earlier layers.
	require.True(t, cfg.Verbose)
	require.True(t, cfg.TraceEvents)
	require.Equal(t, "file.cbor", cfg.RecordPath)
}

func TestBadEnv(t *testing.T) {
	t.Setenv("CRASHDBG_MAX_FRAMES", "many")
	_, err := Load("")
	require.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MaxFrames = 0
	cfg.Color = "sometimes"
	cfg.StackWords = -1

	err := cfg.Validate()
	require.ErrorContains(t, err, "max_frames")
	require.ErrorContains(t, err, "color")
	require.ErrorContains(t, err, "stack_words")
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Verbose = true
	cfg.CaptureAttachBreakpoint = true

	opts := cfg.SessionOptions(nil)
	require.True(t, opts.DumpAllThreads)
	require.True(t, opts.VerboseSymbols)
	require.True(t, opts.CaptureAttachBreakpoint)
	require.False(t, opts.ReportFirstChance)
	require.Nil(t, opts.AttachSignal)
}
