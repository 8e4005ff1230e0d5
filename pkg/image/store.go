package image

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image/compress"

	"github.com/graymeta/stow"
	"github.com/tarndt/sema"

	//Load drivers
	"github.com/graymeta/stow/azure"  //Azure storage
	"github.com/graymeta/stow/b2"     //Backblaze storage
	"github.com/graymeta/stow/google" //Google storage
	"github.com/graymeta/stow/local"  //local storage
	"github.com/graymeta/stow/oracle" //oracle storage
	"github.com/graymeta/stow/s3"     //s3 storage
	"github.com/graymeta/stow/sftp"   //sftp storage
	"github.com/graymeta/stow/swift"  //swift storage
)

//The object store (stow.Location) kinds images can be shared through without
// having to import the driver package for each
const (
	KindAzure               = azure.Kind
	KindBackBlazeB2         = b2.Kind
	KindGoogleCloudStorage  = google.Kind
	KindLocal               = local.Kind
	KindS3                  = s3.Kind
	KindOracleObjectStorage = oracle.Kind
	KindSFTP                = sftp.Kind
	KindSwift               = swift.Kind
)

//Kinds lists every supported object store kind
func Kinds() []string {
	return []string{KindS3, KindBackBlazeB2, KindLocal, KindAzure, KindSwift, KindGoogleCloudStorage, KindOracleObjectStorage, KindSFTP}
}

const (
	metaGeometryHeader = "x-flashbd-geometry"
	metaCompressHeader = "x-flashbd-cmp-alg"
)

//Store keeps named device images in an object store container so fixtures
// (ex. pre-corrupted images) can be shared between test runs and machines
type Store struct {
	container  stow.Container
	mode       compress.Mode
	noMetadata bool
}

//StoreOption is a Store option
type StoreOption interface {
	apply(*Store)
}

//OptNoMetadata instructs a Store to not record image geometry and compression
// as object metadata, for containers that cannot hold metadata. Pulls then
// trust the device geometry and the Store's own compression mode.
type OptNoMetadata bool

func (noMeta OptNoMetadata) apply(st *Store) {
	st.noMetadata = bool(noMeta)
}

//SupportsMetadata returns false if the provided object store kind is known to
// not support metadata
func SupportsMetadata(kind string) bool {
	switch kind {
	case KindLocal, KindSFTP:
		return false
	}
	return true
}

//NewStore constructs a Store over container, images are pushed compressed with mode
func NewStore(container stow.Container, mode compress.Mode, options ...StoreOption) *Store {
	st := &Store{container: container, mode: mode}
	for _, opt := range options {
		opt.apply(st)
	}
	return st
}

//DialStore dials an object store of the provided kind and opens (creating if
// needed) the named container. See stow.Dial for more info.
func DialStore(kind string, config stow.ConfigMap, containerName string, mode compress.Mode) (*Store, error) {
	if err := stow.Validate(kind, config); err != nil {
		return nil, fmt.Errorf("Invalid %s object store configuration: %w", kind, err)
	}
	location, err := stow.Dial(kind, config)
	if err != nil {
		return nil, fmt.Errorf("Could not dial %s object store: %w", kind, err)
	}

	container, err := location.Container(containerName)
	if err == nil {
		//Some drivers (ex. s3 with an endpoint) return a handle without
		// confirming the container exists
		_, _, err = container.Items(stow.NoPrefix, stow.CursorStart, 1)
	}
	if err != nil {
		var createErr error
		if container, createErr = location.CreateContainer(containerName); createErr != nil {
			return nil, fmt.Errorf("Could not open remote container %q: %w; nor create it: %s", containerName, err, createErr)
		}
	}
	return NewStore(container, mode, OptNoMetadata(!SupportsMetadata(kind))), nil
}

//Push uploads the full contents of dev as the image name
func (st *Store) Push(name string, dev flashlib.Device) error {
	geoText, err := dev.Geometry().MarshalText()
	if err != nil {
		return fmt.Errorf("Could not encode device geometry: %w", err)
	}

	var buf bytes.Buffer
	if _, err = Export(&buf, dev, st.mode); err != nil {
		return fmt.Errorf("Could not export image %q: %w", name, err)
	}

	var metadata map[string]interface{}
	if !st.noMetadata {
		metadata = map[string]interface{}{
			metaGeometryHeader: string(geoText),
			metaCompressHeader: st.mode.AlgoName(),
		}
	}
	if _, err = st.container.Put(name, &buf, int64(buf.Len()), metadata); err != nil {
		return fmt.Errorf("Could not upload image %q to remote container %q: %w", name, st.container.Name(), err)
	}
	return nil
}

//PushAll uploads every device concurrently, using at most concurrency workers
// (at least one). Each device is only touched by a single worker. The first
// error encountered is returned after all uploads finish.
func (st *Store) PushAll(devs map[string]flashlib.Device, concurrency uint) error {
	if concurrency < 1 {
		concurrency = 1
	}
	pushSema := sema.NewChanSemaCount(concurrency)

	var (
		pending  sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for name, dev := range devs {
		pushSema.P()
		pending.Add(1)

		go func(name string, dev flashlib.Device) {
			defer func() {
				pushSema.V()
				pending.Done()
			}()

			if err := st.Push(name, dev); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(name, dev)
	}
	pending.Wait()
	return firstErr
}

//Pull replaces the contents of dev with the image name. The image must have
// been pushed from a device of the same geometry.
func (st *Store) Pull(name string, dev flashlib.Device) error {
	item, err := st.item(name)
	if err != nil {
		return err
	}

	mode := st.mode
	if !st.noMetadata {
		if mode, err = checkMetadata(name, item, dev.Geometry()); err != nil {
			return err
		}
	}

	rdr, err := item.Open()
	if err != nil {
		return fmt.Errorf("Could not open image %q for downloading: %w", name, err)
	}
	if err = Import(dev, rdr, mode); err != nil {
		return fmt.Errorf("Could not import image %q: %w", name, err)
	}
	return nil
}

//Names lists the images in the store in lexical order
func (st *Store) Names() ([]string, error) {
	var names []string
	for cursor := stow.CursorStart; ; {
		items, next, err := st.container.Items(stow.NoPrefix, cursor, 100)
		if err != nil {
			return nil, fmt.Errorf("Could not list remote container %q: %w", st.container.Name(), err)
		}
		for _, item := range items {
			names = append(names, item.Name())
		}
		if stow.IsCursorEnd(next) {
			break
		}
		cursor = next
	}
	sort.Strings(names)
	return names, nil
}

//Remove deletes the image name
func (st *Store) Remove(name string) error {
	item, err := st.item(name)
	if err != nil {
		return err
	}
	if err = st.container.RemoveItem(item.ID()); err != nil {
		return fmt.Errorf("Could not remove image %q from remote container %q: %w", name, st.container.Name(), err)
	}
	return nil
}

//item finds the image name by listing, as item IDs are driver specific
// (ex. local IDs are full paths)
func (st *Store) item(name string) (stow.Item, error) {
	for cursor := stow.CursorStart; ; {
		items, next, err := st.container.Items(name, cursor, 100)
		if err != nil {
			return nil, fmt.Errorf("Could not list remote container %q: %w", st.container.Name(), err)
		}
		for _, item := range items {
			if item.Name() == name {
				return item, nil
			}
		}
		if stow.IsCursorEnd(next) {
			return nil, fmt.Errorf("Could not find image %q in remote container %q: %w", name, st.container.Name(), stow.ErrNotFound)
		}
		cursor = next
	}
}

//checkMetadata confirms the image item was pushed from a device of geometry
// geo and returns the compression it was pushed with
func checkMetadata(name string, item stow.Item, geo flashlib.Geometry) (compress.Mode, error) {
	md, err := item.Metadata()
	if err != nil {
		return compress.ModeUnknown, fmt.Errorf("Could not read image %q metadata: %w", name, err)
	}

	geoStr, _ := md[metaGeometryHeader].(string)
	var imgGeo flashlib.Geometry
	if err = imgGeo.UnmarshalText([]byte(geoStr)); err != nil {
		return compress.ModeUnknown, fmt.Errorf("Image %q has no usable geometry: %w", name, err)
	} else if imgGeo != geo {
		return compress.ModeUnknown, fmt.Errorf("Image %q is of geometry %s not %s: %w", name, geoStr, geo, ErrSize)
	}

	algoStr, _ := md[metaCompressHeader].(string)
	mode := compress.ModeFromName(algoStr)
	if mode == compress.ModeUnknown {
		return mode, fmt.Errorf("Image %q metadata specified unsupported compression mode: %q", name, algoStr)
	}
	return mode, nil
}
