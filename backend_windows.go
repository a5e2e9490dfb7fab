package main

import (
	"crashDbg/config"
	"crashDbg/diag"
	"crashDbg/session"
	"crashDbg/termlog"
	"crashDbg/windbg"
)

func openBackend(tgt target, out *termlog.Sink, cfg *config.Config) (*backend, error) {
	var d *windbg.Debugger
	var err error
	if tgt.pid != 0 {
		d, err = windbg.Attach(uint32(tgt.pid))
	} else {
		d, err = windbg.Launch(tgt.argv[0], tgt.argv[1:]...)
	}
	if err != nil {
		return nil, err
	}

	var signal session.Signaler
	if tgt.event != 0 {
		signal = windbg.NewEvent(uintptr(tgt.event))
	}

	symbols := windbg.NewProvider()
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
				Is32:       d.Is32,
			},
			Memory:  d,
			Control: d,
		},
		signal: signal,
		close:  d.Close,
	}, nil
}
