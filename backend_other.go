//go:build !linux && !windows

package main

import (
	"fmt"
	"runtime"

	"crashDbg/config"
	"crashDbg/termlog"
)

func openBackend(target, *termlog.Sink, *config.Config) (*backend, error) {
	return nil, fmt.Errorf("no debugger backend for %s", runtime.GOOS)
}
