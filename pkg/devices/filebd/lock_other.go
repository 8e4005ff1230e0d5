//go:build !unix

package filebd

import "github.com/spf13/afero"

func lockFile(afero.File) (unlock func() error, err error) {
	return func() error { return nil }, nil
}
