package main

import (
	"errors"

	"crashDbg/config"
	"crashDbg/diag"
	"crashDbg/elfsym"
	"crashDbg/ptracedbg"
	"crashDbg/session"
	"crashDbg/termlog"
)

func openBackend(tgt target, out *termlog.Sink, cfg *config.Config) (*backend, error) {
	if tgt.event != 0 {
		return nil, errors.New("--event is only supported on windows")
	}

	var d *ptracedbg.Debugger
	var err error
	if tgt.pid != 0 {
		d, err = ptracedbg.Attach(tgt.pid)
	} else {
		d, err = ptracedbg.Launch(tgt.argv[0], tgt.argv[1:]...)
	}
	if err != nil {
		return nil, err
	}

	symbols := elfsym.NewProvider(ptracedbg.Modules)
	return &backend{
		source: d,
		Backend: session.Backend{
			Symbols: symbols,
			Dumper: &diag.Dumper{
				Out:        out,
				Memory:     d,
				Symbols:    symbols,
				Threads:    d,
				MaxFrames:  cfg.MaxFrames,
				StackWords: cfg.StackWords,
			},
			Memory:  d,
			Control: d,
		},
		close: d.Close,
	}, nil
}
