//go:build unix

package main

import (
	"github.com/tarndt/flashbd/pkg/devices/mmapbd"
	"github.com/tarndt/flashbd/pkg/flashlib"
)

func openMmap(geo flashlib.Geometry, path string, tracer flashlib.Tracer) (flashlib.Device, error) {
	return mmapbd.NewMmapBD(geo, path, tracer)
}
