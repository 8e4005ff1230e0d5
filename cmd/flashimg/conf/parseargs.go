package conf

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image"
	"github.com/tarndt/flashbd/pkg/image/compress"

	"github.com/graymeta/stow"
	"github.com/graymeta/stow/s3"
)

const (
	defReadSize    = 16
	defProgSize    = 16
	defEraseSize   = 4096
	defEraseCount  = 256
	defPebbleCache = 8 * 1024 * 1024
	defContainer   = "flash-images"
)

//ErrHelp is returned by ParseArgs when usage was requested
var ErrHelp = flag.ErrHelp

//MustGetConfig successful reads configuration from command-line arguments and
// creates a Config or it exits with feedback for the invoking user
func MustGetConfig() *Config {
	cfg, err := ParseArgs(os.Args[0], os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, ErrHelp):
		os.Exit(0)
	case err != nil:
		log.Fatalf("Bad argument: %s", err)
	}
	return cfg
}

//ParseArgs reads configuration from the provided command-line arguments, usage
// and parse failures are written to output
func ParseArgs(name string, args []string, output io.Writer) (*Config, error) {
	var devKind, geoText, blockStr, dataHex, objStoreConfigJSON, compressName string
	var readSize, progSize, eraseSize Capacity
	var eraseCount uint
	var offset uint
	cfg := new(Config)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [options see below...] <command>\n"+
			"Commands: create, info, erase, dump, poke, export, import, push, pull, list\n"+
			"\tExample:\n"+
			"\t\tCreate a 512 KiB NOR style image: %[1]s -image=disk.img -read-size=1 -prog-size=1 -erase-size=512 -erase-count=1024 create\n"+
			"\t\tCorrupt a byte of block 5 to test recovery: %[1]s -image=disk.img -geometry=1/1/512/1024 -block=5 -off=3 -hex=00 poke\n"+
			"\t\tShow the first 64 bytes of block 5: %[1]s -image=disk.img -geometry=1/1/512/1024 -block=5 -len=64 dump\n"+
			"\t\tSave a compressed copy of an image: %[1]s -image=disk.img -geometry=1/1/512/1024 -file=disk.img.zst -compress=zstd export\n"+
			"\t\tShare an image through a locally running S3/minio objectstore: %[1]s -image=disk.img -geometry=1/1/512/1024 -name=corrupt-superblock push\n\n", name)
		fs.PrintDefaults()
	}

	//General options
	fs.StringVar(&cfg.ImagePath, "image", "", "Path of the image (for pebble a directory) backing the emulated flash device")
	fs.StringVar(&devKind, "dev-type", "file", "Type of device to emulate flash with: 'file', 'mmap' or 'pebble'")
	flagCapacityVar(fs, &readSize, "read-size", defReadSize, "Minimum read size of the device (ex. 1, 16, 2 KiB)")
	flagCapacityVar(fs, &progSize, "prog-size", defProgSize, "Minimum program size of the device (ex. 1, 16, 2 KiB)")
	flagCapacityVar(fs, &eraseSize, "erase-size", defEraseSize, "Erase block size of the device (ex. 512, 4 KiB, 128 KiB)")
	fs.UintVar(&eraseCount, "erase-count", defEraseCount, "Number of erase blocks on the device")
	fs.StringVar(&geoText, "geometry", "", "Shorthand for all geometry options as READ/PROG/ERASE/COUNT (ex. 16/16/4KiB/256), overrides the individual options")
	fs.BoolVar(&cfg.Strict, "strict", false, "Reject programs into regions that were not erased first (the device is scanned on open)")
	fs.BoolVar(&cfg.Aligned, "aligned", false, "If strict; also reject reads and programs not aligned to the read and program sizes")
	fs.BoolVar(&cfg.Trace, "trace", false, "Log every device operation")
	flagCapacityVar(fs, &cfg.PebbleCacheBytes, "pebble-memcache", defPebbleCache, "Amount of memory for the pebble device block cache (ex. 8 MiB)")

	//Command specific options
	fs.StringVar(&blockStr, "block", "", "Block to erase, dump or poke; erase also accepts 'all'")
	fs.UintVar(&offset, "off", 0, "Offset within the block to dump or poke")
	flagCapacityVar(fs, &cfg.Length, "len", 0, "Number of bytes to dump (0 implies to the end of the block)")
	fs.StringVar(&dataHex, "hex", "", "Hex encoded bytes to poke (ex. 00ff)")
	fs.StringVar(&cfg.File, "file", "", "File to export to or import from")
	fs.StringVar(&compressName, "compress", compress.ModeIdentityName,
		fmt.Sprintf("Compression algorithm for exported and pushed images: %q, %q, %q or %q for no compression",
			compress.ModeS2Name, compress.ModeGzipName, compress.ModeZstdName, compress.ModeIdentityName),
	)

	//Objectstore
	fs.StringVar(&cfg.ObjStoreConfig.Kind, "objstore-kind", image.KindS3, "Type of remote objectstore: "+strings.Join(image.Kinds(), ", "))
	fs.StringVar(&objStoreConfigJSON, "objstore-cfg", mustGetDefObjStoreParams(), "JSON configuration (default assumes local minio [kind \"s3\"] with default settings)")
	fs.StringVar(&cfg.ObjStoreConfig.Container, "objstore-container", defContainer, "Remote container to keep images in")
	fs.StringVar(&cfg.ObjStoreConfig.ImageName, "name", "", "Name of the image to push or pull")

	//Process args set
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("Exactly one command is required, found: %q", fs.Args())
	}
	if cfg.Command = NewCommand(fs.Arg(0)); cfg.Command == CmdUnknown {
		return nil, fmt.Errorf("Unknown command: %q", fs.Arg(0))
	}
	if cfg.CompressMode = compress.ModeFromName(compressName); cfg.CompressMode == compress.ModeUnknown {
		return nil, fmt.Errorf("Unknown compression mode %q was provided", compressName)
	}

	switch cfg.Command {
	case CmdPush, CmdPull, CmdList:
		if err := getObjStoreConfig(cfg, objStoreConfigJSON); err != nil {
			return nil, err
		}
		if cfg.Command != CmdList && cfg.ObjStoreConfig.ImageName == "" {
			return nil, fmt.Errorf("No image name was provided (use -name=X)")
		}
	}
	if !cfg.Command.NeedsDevice() {
		return cfg, nil
	}

	if cfg.ImagePath == "" {
		return nil, fmt.Errorf("No image path was provided (use -image=X)")
	}
	if cfg.BackingMode = NewBackingDevice(devKind); cfg.BackingMode == DevUnknown {
		return nil, fmt.Errorf("Unknown backing device type of: %q", devKind)
	}
	if cfg.Aligned && !cfg.Strict {
		return nil, fmt.Errorf("Alignment checks require strict mode (use -strict)")
	}

	if geoText != "" {
		if err := cfg.Geometry.UnmarshalText([]byte(geoText)); err != nil {
			return nil, fmt.Errorf("Could not parse geometry %q: %w", geoText, err)
		}
	} else {
		for _, size := range []Capacity{readSize, progSize, eraseSize} {
			if size < 0 || size > Capacity(^uint32(0)) {
				return nil, fmt.Errorf("Size of %s is not representable: %w", &size, flashlib.ErrRange)
			}
		}
		if eraseCount > uint(^uint32(0)) {
			return nil, fmt.Errorf("Erase count of %d is not representable: %w", eraseCount, flashlib.ErrRange)
		}
		cfg.Geometry = flashlib.Geometry{
			ReadSize:   uint32(readSize),
			ProgSize:   uint32(progSize),
			EraseSize:  uint32(eraseSize),
			EraseCount: uint32(eraseCount),
		}
		if err := cfg.Geometry.Validate(); err != nil {
			return nil, fmt.Errorf("Invalid geometry: %w", err)
		}
	}

	return cfg, getBlockConfig(cfg, blockStr, offset, dataHex)
}

func getBlockConfig(cfg *Config, blockStr string, offset uint, dataHex string) error {
	geo := cfg.Geometry

	switch cfg.Command {
	case CmdErase, CmdDump, CmdPoke:
		if blockStr == "" {
			return fmt.Errorf("No block was provided (use -block=N)")
		}
		if strings.ToLower(blockStr) == "all" {
			if cfg.Command != CmdErase {
				return fmt.Errorf("Only erase accepts -block=all")
			}
			cfg.AllBlocks = true
			return nil
		}

		var block uint64
		if _, err := fmt.Sscan(blockStr, &block); err != nil {
			return fmt.Errorf("Could not parse block %q: %w", blockStr, err)
		}
		if block >= uint64(geo.EraseCount) {
			return fmt.Errorf("Block %d is beyond the last block (%d): %w", block, geo.EraseCount-1, flashlib.ErrRange)
		}
		if offset >= uint(geo.EraseSize) {
			return fmt.Errorf("Offset %d is beyond the end of the %d byte block: %w", offset, geo.EraseSize, flashlib.ErrRange)
		}
		cfg.Block, cfg.Offset = uint32(block), uint32(offset)

	case CmdExport, CmdImport:
		if cfg.File == "" {
			return fmt.Errorf("No file was provided (use -file=X)")
		}
	}

	switch cfg.Command {
	case CmdDump:
		if cfg.Length == 0 {
			cfg.Length = Capacity(geo.EraseSize - cfg.Offset)
		} else if cfg.Length < 0 || int64(cfg.Offset)+int64(cfg.Length) > int64(geo.EraseSize) {
			return fmt.Errorf("Dumping %d bytes at offset %d runs past the end of the %d byte block: %w", cfg.Length, cfg.Offset, geo.EraseSize, flashlib.ErrRange)
		}

	case CmdPoke:
		var err error
		if cfg.Data, err = hex.DecodeString(dataHex); err != nil {
			return fmt.Errorf("Could not decode bytes to poke %q: %w", dataHex, err)
		} else if len(cfg.Data) < 1 {
			return fmt.Errorf("No bytes to poke were provided (use -hex=X)")
		}
	}
	return nil
}

func getObjStoreConfig(cfg *Config, objStoreConfigJSON string) error {
	if cfg.ObjStoreConfig.Kind == "" {
		return fmt.Errorf("An objectstore kind must be provided (-objstore-kind=X)")
	}
	cfg.ObjStoreConfig.Kind = strings.ToLower(cfg.ObjStoreConfig.Kind)
	if !knownKind(cfg.ObjStoreConfig.Kind) {
		return fmt.Errorf("Unknown objectstore kind was provided: %q", cfg.ObjStoreConfig.Kind)
	}
	if cfg.ObjStoreConfig.Container == "" {
		return fmt.Errorf("No remote container was provided (use -objstore-container=X)")
	}

	if objStoreConfigJSON == "" {
		return fmt.Errorf("No JSON configuration was provided for remote objectstore (use -objstore-cfg=JSON)")
	}
	cfg.ObjStoreConfig.Config = make(stow.ConfigMap)
	if err := json.Unmarshal([]byte(objStoreConfigJSON), &cfg.ObjStoreConfig.Config); err != nil {
		return fmt.Errorf("Provided JSON configuration for remote objectstore could not be parsed: %w", err)
	}
	if err := stow.Validate(cfg.ObjStoreConfig.Kind, cfg.ObjStoreConfig.Config); err != nil {
		return fmt.Errorf("Provided configuration for remote objectstore was not valid: %w", err)
	}
	return nil
}

func knownKind(kind string) bool {
	for _, known := range image.Kinds() {
		if kind == known {
			return true
		}
	}
	return false
}

func mustGetDefObjStoreParams() string {
	cfg := stow.ConfigMap{
		s3.ConfigEndpoint:    "http://127.0.0.1:9000",
		s3.ConfigAccessKeyID: "minioadmin",
		s3.ConfigSecretKey:   "minioadmin",
	}

	JSON, err := json.Marshal(cfg)
	if err != nil {
		log.Fatalf("Could not marshal default object store JSON config: %s", err)
	}

	return string(JSON)
}
