package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tarndt/flashbd/cmd/flashimg/conf"
	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image"
	"github.com/tarndt/flashbd/pkg/util"

	"github.com/dustin/go-humanize"
)

//run performs the configured command against dev and/or store writing any
// results for the user to out
func run(cfg *conf.Config, dev flashlib.Device, store *image.Store, out io.Writer) error {
	var err error
	switch cfg.Command {
	case conf.CmdCreate:
		if err = dev.Sync(); err == nil {
			_, err = fmt.Fprintf(out, "Image %q is a %s\n", cfg.ImagePath, dev.Geometry())
		}

	case conf.CmdInfo:
		err = info(cfg, dev, out)

	case conf.CmdErase:
		err = erase(cfg, dev)

	case conf.CmdDump:
		buf := make([]byte, cfg.Length)
		if err = dev.ReadBlock(cfg.Block, cfg.Offset, buf); err == nil {
			_, err = fmt.Fprintf(out, "Block %d offset %d (image position %d):\n%s", cfg.Block, cfg.Offset, dev.Geometry().Pos(cfg.Block, cfg.Offset), hex.Dump(buf))
		}

	case conf.CmdPoke:
		if err = dev.ProgramBlock(cfg.Block, cfg.Offset, cfg.Data); err == nil {
			err = dev.Sync()
		}

	case conf.CmdExport:
		err = export(cfg, dev, out)

	case conf.CmdImport:
		err = importFile(cfg, dev)

	case conf.CmdPush:
		err = store.Push(cfg.ObjStoreConfig.ImageName, dev)

	case conf.CmdPull:
		if err = store.Pull(cfg.ObjStoreConfig.ImageName, dev); err == nil {
			err = dev.Sync()
		}

	case conf.CmdList:
		var names []string
		if names, err = store.Names(); err == nil {
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
		}

	default:
		err = fmt.Errorf("Bug: unknown command enum: %d", cfg.Command)
	}

	if strict, isStrict := dev.(*flashlib.Strict); isStrict {
		stats := strict.Stats()
		log.Printf("Device activity: %d reads (%s), %d programs (%s), %d erases, %d syncs",
			stats.Reads, humanize.IBytes(stats.BytesRead), stats.Programs, humanize.IBytes(stats.BytesProgrammed), stats.Erases, stats.Syncs,
		)
	}
	return err
}

func info(cfg *conf.Config, dev flashlib.Device, out io.Writer) error {
	geo := dev.Geometry()
	buf := make([]byte, geo.EraseSize)

	var erased uint32
	for block := uint32(0); block < geo.EraseCount; block++ {
		if err := dev.ReadBlock(block, 0, buf); err != nil {
			return err
		}
		if util.IsFilled(buf, flashlib.EraseValue) {
			erased++
		}
	}

	geoText, _ := geo.MarshalText()
	_, err := fmt.Fprintf(out, "Image:    %s (%s)\nGeometry: %s (%s)\nErased:   %d of %d blocks\n",
		cfg.ImagePath, cfg.BackingMode, geoText, geo, erased, geo.EraseCount,
	)
	return err
}

func erase(cfg *conf.Config, dev flashlib.Device) error {
	first, last := cfg.Block, cfg.Block
	if cfg.AllBlocks {
		first, last = 0, dev.Geometry().EraseCount-1
	}
	for block := first; block <= last; block++ {
		if err := dev.EraseBlock(block); err != nil {
			return err
		}
	}
	return dev.Sync()
}

func export(cfg *conf.Config, dev flashlib.Device, out io.Writer) error {
	file, err := os.Create(cfg.File)
	if err != nil {
		return fmt.Errorf("Could not create export file: %w", err)
	}
	defer file.Close()

	n, err := image.Export(file, dev, cfg.CompressMode)
	if err != nil {
		return err
	}
	if err = file.Sync(); err != nil {
		return fmt.Errorf("Could not sync export file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("Could not stat export file: %w", err)
	}
	_, err = fmt.Fprintf(out, "Exported %s to %q (%s, %s compression)\n",
		humanize.IBytes(uint64(n)), cfg.File, humanize.IBytes(uint64(info.Size())), cfg.CompressMode,
	)
	return err
}

func importFile(cfg *conf.Config, dev flashlib.Device) error {
	file, err := os.Open(cfg.File)
	if err != nil {
		return fmt.Errorf("Could not open import file: %w", err)
	}
	if err = image.Import(dev, file, cfg.CompressMode); err != nil {
		return err
	}
	return dev.Sync()
}
