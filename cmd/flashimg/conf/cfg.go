package conf

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image/compress"

	"github.com/dustin/go-humanize"
	"github.com/graymeta/stow"
)

//Command is an action the tool performs on an image
type Command uint8

//Enumerate available commands
const (
	CmdUnknown Command = iota
	CmdCreate
	CmdInfo
	CmdErase
	CmdDump
	CmdPoke
	CmdExport
	CmdImport
	CmdPush
	CmdPull
	CmdList
)

var cmdNames = map[Command]string{
	CmdCreate: "create",
	CmdInfo:   "info",
	CmdErase:  "erase",
	CmdDump:   "dump",
	CmdPoke:   "poke",
	CmdExport: "export",
	CmdImport: "import",
	CmdPush:   "push",
	CmdPull:   "pull",
	CmdList:   "list",
}

//NewCommand constructs a Command from its name
func NewCommand(name string) Command {
	name = strings.ToLower(name)
	for cmd, cmdName := range cmdNames {
		if cmdName == name {
			return cmd
		}
	}
	return CmdUnknown
}

func (cmd Command) String() string {
	if name, found := cmdNames[cmd]; found {
		return name
	}
	return "unknown"
}

//IsRemote is true for commands that use the remote object store
func (cmd Command) IsRemote() bool {
	switch cmd {
	case CmdPush, CmdPull, CmdList:
		return true
	}
	return false
}

//NeedsDevice is false for commands that only operate on the remote object store
func (cmd Command) NeedsDevice() bool {
	return cmd != CmdList
}

//Config is a representation of command line config parameters
type Config struct {
	Command     Command
	ImagePath   string
	BackingMode BackingDevice
	Geometry    flashlib.Geometry
	Strict      bool
	Aligned     bool
	Trace       bool
	//CompressMode of images exported to files or pushed to an object store
	CompressMode compress.Mode
	BlockConfig
	FileConfig
	ObjStoreConfig
	PebbleCacheBytes Capacity
}

//String generates human-readable prose describing a configuration
func (cfg *Config) String() string {
	var checks string
	switch {
	case cfg.Strict && cfg.Aligned:
		checks = ", rejecting programs of unerased or misaligned regions"
	case cfg.Strict:
		checks = ", rejecting programs of unerased regions"
	}

	var cmdParams string
	switch cfg.Command {
	case CmdErase, CmdDump, CmdPoke:
		cmdParams = " " + cfg.BlockConfig.String()
	case CmdExport, CmdImport:
		cmdParams = fmt.Sprintf(" %s with %s compression", cfg.FileConfig.String(), cfg.CompressMode)
	case CmdPush, CmdPull:
		cmdParams = fmt.Sprintf(" %s with %s compression", cfg.ObjStoreConfig.String(), cfg.CompressMode)
	case CmdList:
		return fmt.Sprintf("Running %s %s.", cfg.Command, cfg.ObjStoreConfig.String())
	}

	return fmt.Sprintf("Running %s%s on %s image %q (%s)%s.",
		cfg.Command, cmdParams, cfg.BackingMode, cfg.ImagePath, cfg.Geometry, checks,
	)
}

//BlockConfig is the parameters of commands that address a single block
type BlockConfig struct {
	Block     uint32
	AllBlocks bool
	Offset    uint32
	Length    Capacity
	Data      []byte
}

//String generates human-readable prose describing a BlockConfig
func (bc *BlockConfig) String() string {
	if bc.AllBlocks {
		return "of every block"
	}
	switch {
	case len(bc.Data) > 0:
		return fmt.Sprintf("of %d bytes at block %d offset %d", len(bc.Data), bc.Block, bc.Offset)
	case bc.Length > 0:
		return fmt.Sprintf("of %s at block %d offset %d", humanize.IBytes(uint64(bc.Length)), bc.Block, bc.Offset)
	}
	return fmt.Sprintf("of block %d", bc.Block)
}

//FileConfig is the parameters of commands that move a whole image to or from a local file
type FileConfig struct {
	File string
}

//String generates human-readable prose describing a FileConfig
func (fc *FileConfig) String() string {
	return fmt.Sprintf("using file %q", fc.File)
}

//ObjStoreConfig is the parameters of commands that share images through a
// remote object store
type ObjStoreConfig struct {
	Kind      string
	Config    stow.ConfigMap
	Container string
	ImageName string
}

//String generates human-readable prose describing a ObjStoreConfig
func (c *ObjStoreConfig) String() string {
	var name string
	if c.ImageName != "" {
		name = fmt.Sprintf("image %q in ", c.ImageName)
	}
	return fmt.Sprintf("of %scontainer %q of a %s remote object store (%s)",
		name, c.Container, c.Kind, stowCfgStr(c.Config),
	)
}

func stowCfgStr(cm stow.ConfigMap) string {
	keys := make([]string, 0, len(cm))
	for k := range cm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var str bytes.Buffer
	for _, k := range keys {
		str.WriteString(k)
		str.WriteByte('=')

		if mayBeSecret(k) {
			str.WriteString("<REDACTED>")
		} else {
			str.WriteByte('"')
			str.WriteString(cm[k])
			str.WriteByte('"')
		}
		str.WriteString(", ")
	}
	if str.Len() > 2 {
		str.Truncate(str.Len() - 2)
	}
	return str.String()
}

func mayBeSecret(s string) bool {
	s = strings.ToLower(s)
	for _, candidate := range []string{"secret", "cred", "pass", "token"} {
		if strings.Contains(s, candidate) {
			return true
		}
	}
	return false
}
