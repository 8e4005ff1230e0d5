//go:build unix

package filebd

import (
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

type fder interface {
	Fd() uintptr
}

//lockFile takes a non-blocking exclusive flock on file if it is an OS file
func lockFile(file afero.File) (unlock func() error, err error) {
	osFile, isOSFile := file.(fder)
	if !isOSFile {
		return func() error { return nil }, nil
	}

	fd := int(osFile.Fd())
	if err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, err
	}
	return func() error { return unix.Flock(fd, unix.LOCK_UN) }, nil
}
