//go:build !unix

package main

import (
	"fmt"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/util/consterr"
)

func openMmap(flashlib.Geometry, string, flashlib.Tracer) (flashlib.Device, error) {
	return nil, fmt.Errorf("Memory-mapped images are only available on unix: %w", consterr.ErrUnsupported)
}
