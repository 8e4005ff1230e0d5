package filebd

import (
	"os"

	"github.com/tarndt/flashbd/pkg/flashlib"

	"github.com/spf13/afero"
)

//Option is a file backed device option
type Option interface {
	apply(*params)
}

type params struct {
	fs     afero.Fs
	perm   os.FileMode
	tracer flashlib.Tracer
	noLock bool
}

func defaultParams() params {
	return params{
		fs:     afero.NewOsFs(),
		perm:   0666,
		tracer: flashlib.NopTracer{},
	}
}

//OptFs instructs a device to open its backing file on the provided filesystem
// rather than the OS filesystem (ex. afero.NewMemMapFs() for tests)
type OptFs struct{ afero.Fs }

func (opt OptFs) apply(p *params) {
	p.fs = opt.Fs
}

//OptPerm sets the permissions used if the backing file must be created
type OptPerm os.FileMode

func (perm OptPerm) apply(p *params) {
	p.perm = os.FileMode(perm)
}

//OptTracer instructs a device to report every operation to the provided tracer
type OptTracer struct{ flashlib.Tracer }

func (opt OptTracer) apply(p *params) {
	p.tracer = opt.Tracer
}

//OptNoLock instructs a device to not take an exclusive lock on its backing
// file. Useful only when external tooling must inspect a live image.
type OptNoLock bool

func (noLock OptNoLock) apply(p *params) {
	p.noLock = bool(noLock)
}
