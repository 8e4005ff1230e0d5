package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tarndt/flashbd/cmd/flashimg/conf"
	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image"

	logrus "github.com/fclairamb/go-log/logrus"
	sirupsen "github.com/sirupsen/logrus"
)

var toolName = fmt.Sprintf("Flash image tool (%s)", os.Args[0])

//Simple usage: go build && ./flashimg -image=disk.img create
func main() {
	cfg := conf.MustGetConfig()
	log.Printf(toolName+" using config: %s", cfg)

	var store *image.Store
	if cfg.Command.IsRemote() {
		var err error
		if store, err = image.DialStore(cfg.ObjStoreConfig.Kind, cfg.ObjStoreConfig.Config, cfg.ObjStoreConfig.Container, cfg.CompressMode); err != nil {
			log.Fatalf("Could not open remote image store: %s", err)
		}
	}

	var dev flashlib.Device
	if cfg.Command.NeedsDevice() {
		dev = mustGetDevice(cfg)
	}

	err := run(cfg, dev, store, os.Stdout)
	if dev != nil {
		if closeErr := dev.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("Could not close device: %w", closeErr)
		}
	}
	if err != nil {
		log.Fatalf("%s failed (code %d): %s", cfg.Command, flashlib.ErrorCode(err), err)
	}
	log.Println(toolName + " completed normally.")
}

func mustGetDevice(cfg *conf.Config) flashlib.Device {
	var tracer flashlib.Tracer = flashlib.NopTracer{}
	if cfg.Trace {
		logger := sirupsen.New()
		logger.SetLevel(sirupsen.DebugLevel)
		tracer = flashlib.NewLogTracer(logrus.NewWrap(logger))
	}

	dev, err := openDevice(cfg, tracer)
	if err != nil {
		log.Fatalf("Could not open %s backed flash device: %s", cfg.BackingMode, err)
	}
	return dev
}
