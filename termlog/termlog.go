// Package termlog is the diagnostic output sink: an append-only text
// stream that is colored when it reaches a terminal.
package termlog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorWhite  = "\033[37m"
	ColorBold   = "\033[1m"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

type Sink struct {
	w     io.Writer
	color bool
	width int
}

func NewSink(w io.Writer, mode ColorMode) *Sink {
	s := &Sink{w: w}
	f, isFile := w.(*os.File)
	if isFile && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			s.width = width
		}
	}
	switch mode {
	case ColorAlways:
		s.color = true
	case ColorNever:
		s.color = false
	default:
		s.color = isFile && term.IsTerminal(int(f.Fd()))
	}
	return s
}

func (s *Sink) Colored() bool { return s.color }

func (s *Sink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Printf highlights numeric and string verbs when coloring is on.
func (s *Sink) Printf(msg string, a ...interface{}) {
	if s.color {
		msg = strings.ReplaceAll(msg, "%d", ColorCyan+"%d"+ColorReset)
		msg = strings.ReplaceAll(msg, "0x%016x", ColorCyan+"0x%016x"+ColorReset)
		msg = strings.ReplaceAll(msg, "0x%08x", ColorCyan+"0x%08x"+ColorReset)
		msg = strings.ReplaceAll(msg, "%s", ColorGreen+"%s"+ColorReset)
	}
	fmt.Fprintf(s.w, msg, a...)
}

func (s *Sink) Errorf(msg string, a ...interface{}) {
	if s.color {
		fmt.Fprintf(s.w, "%s[ERROR]%s %s\n", ColorRed, ColorReset, fmt.Sprintf(msg, a...))
		return
	}
	fmt.Fprintf(s.w, "[ERROR] %s\n", fmt.Sprintf(msg, a...))
}

// Line writes a section separator with msg centered on it.
func (s *Sink) Line(msg string) {
	if s.width > len(msg)+2 {
		pad := strings.Repeat("-", (s.width-len(msg)-2)/2)
		fmt.Fprint(s.w, pad+"["+msg+"]"+pad+"\n")
		return
	}
	fmt.Fprint(s.w, "["+msg+"]\n")
}

// Colorize wraps text in color when the sink is colored.
func (s *Sink) Colorize(color, text string) string {
	if !s.color {
		return text
	}
	return color + text + ColorReset
}

// NewLogger returns a leveled logger writing to s. Tracing enables debug
// level output.
func NewLogger(s *Sink, trace bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(s)
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:      s.color,
		DisableColors:    !s.color,
		DisableTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	if trace {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
