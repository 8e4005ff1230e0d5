package conf

import (
	"strings"
)

//These are enums that map to each of the available persistent device implementations
const (
	DevUnknown BackingDevice = iota
	DevFile
	DevMmap
	DevPebble
)

//BackingDevice type represents the available device implementations
type BackingDevice uint8

//NewBackingDevice constructs a BackingDevice from a human textual short name (from config)
func NewBackingDevice(devDesc string) BackingDevice {
	switch strings.ToLower(devDesc) {
	case "file", "disk":
		return DevFile
	case "mmap", "mapped":
		return DevMmap
	case "pebble", "sparse", "kv":
		return DevPebble
	default:
		return DevUnknown
	}
}

//String is a human readable description of the device for display
func (bd BackingDevice) String() string {
	switch bd {
	case DevFile:
		return "file"
	case DevMmap:
		return "memory-mapped file"
	case DevPebble:
		return "sparse pebbleDB"
	default:
		return "unknown"
	}
}
