package main

import (
	"fmt"

	"github.com/tarndt/flashbd/cmd/flashimg/conf"
	"github.com/tarndt/flashbd/pkg/devices/filebd"
	"github.com/tarndt/flashbd/pkg/devices/pebblebd"
	"github.com/tarndt/flashbd/pkg/flashlib"
)

//openDevice opens (creating if needed) the configured image, wrapping it in a
// strict device if requested
func openDevice(cfg *conf.Config, tracer flashlib.Tracer) (dev flashlib.Device, err error) {
	switch cfg.BackingMode {
	case conf.DevFile:
		dev, err = filebd.Create(cfg.Geometry, cfg.ImagePath, filebd.OptTracer{Tracer: tracer})

	case conf.DevMmap:
		dev, err = openMmap(cfg.Geometry, cfg.ImagePath, tracer)

	case conf.DevPebble:
		dev, err = pebblebd.NewPebbleBD(cfg.Geometry, cfg.ImagePath, int64(cfg.PebbleCacheBytes), tracer)

	default:
		return nil, fmt.Errorf("Bug: unknown backing device mode enum: %d", cfg.BackingMode)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.Strict {
		return dev, nil
	}

	strict, err := flashlib.NewStrict(dev, flashlib.OptEnforceAlignment(cfg.Aligned), flashlib.OptStrictTracer{Tracer: tracer})
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("Could not learn erase state of image: %w", err)
	}
	return strict, nil
}
