package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tarndt/flashbd/cmd/flashimg/conf"
	"github.com/tarndt/flashbd/pkg/flashlib"
	"github.com/tarndt/flashbd/pkg/image"
	"github.com/tarndt/flashbd/pkg/util"

	"github.com/graymeta/stow"
	"github.com/graymeta/stow/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/require"
)

const testGeo = "-geometry=1/1/512/64"

//runArgs parses args, opens the configured device and runs the command returning its output
func runArgs(t *testing.T, store *image.Store, args ...string) (string, error) {
	cfg, err := conf.ParseArgs("flashimg", args, io.Discard)
	require.NoError(t, err)

	var dev flashlib.Device
	if cfg.Command.NeedsDevice() {
		dev, err = openDevice(cfg, flashlib.NopTracer{})
		require.NoError(t, err)
		defer func() { require.NoError(t, dev.Close()) }()
	}

	var out bytes.Buffer
	err = run(cfg, dev, store, &out)
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	img := "-image=" + filepath.Join(dir, "disk.img")

	t.Run("create", func(t *testing.T) {
		out, err := runArgs(t, nil, img, testGeo, "create")
		require.NoError(t, err)
		require.Contains(t, out, "32 KiB device of 64 blocks")

		raw, err := os.ReadFile(filepath.Join(dir, "disk.img"))
		require.NoError(t, err)
		require.Len(t, raw, 512*64)
	})

	t.Run("erase-all", func(t *testing.T) {
		_, err := runArgs(t, nil, img, testGeo, "-block=all", "erase")
		require.NoError(t, err)

		out, err := runArgs(t, nil, img, testGeo, "info")
		require.NoError(t, err)
		require.Contains(t, out, "Erased:   64 of 64 blocks")
	})

	t.Run("poke-dump", func(t *testing.T) {
		_, err := runArgs(t, nil, img, testGeo, "-block=5", "-off=3", "-hex=68656c6c6f", "poke")
		require.NoError(t, err)

		out, err := runArgs(t, nil, img, testGeo, "-block=5", "-len=16", "dump")
		require.NoError(t, err)
		require.Contains(t, out, "image position 2560")
		require.Contains(t, out, "ff ff ff 68 65 6c 6c 6f")

		out, err = runArgs(t, nil, img, testGeo, "info")
		require.NoError(t, err)
		require.Contains(t, out, "Erased:   63 of 64 blocks")
	})

	t.Run("strict-poke", func(t *testing.T) {
		_, err := runArgs(t, nil, img, testGeo, "-strict", "-block=5", "-off=4", "-hex=00", "poke")
		require.ErrorIs(t, err, flashlib.ErrNotErased)
		require.Equal(t, flashlib.CodeNotErased, flashlib.ErrorCode(err))

		_, err = runArgs(t, nil, img, testGeo, "-strict", "-block=6", "-off=4", "-hex=00", "poke")
		require.NoError(t, err)
	})

	t.Run("dump-range", func(t *testing.T) {
		_, err := runArgs(t, nil, img, testGeo, "-block=5", "-off=500", "-len=16", "dump")
		require.ErrorIs(t, err, flashlib.ErrRange)
	})

	t.Run("export-import", func(t *testing.T) {
		exported := "-file=" + filepath.Join(dir, "disk.img.zst")
		out, err := runArgs(t, nil, img, testGeo, exported, "-compress=zstd", "export")
		require.NoError(t, err)
		require.Contains(t, out, "Exported 32 KiB")

		copyImg := "-image=" + filepath.Join(dir, "copy.img")
		_, err = runArgs(t, nil, copyImg, testGeo, exported, "-compress=zstd", "import")
		require.NoError(t, err)

		orig, err := os.ReadFile(filepath.Join(dir, "disk.img"))
		require.NoError(t, err)
		copied, err := os.ReadFile(filepath.Join(dir, "copy.img"))
		require.NoError(t, err)
		require.Equal(t, orig, copied)

		_, err = runArgs(t, nil, copyImg, "-geometry=1/1/512/32", exported, "-compress=zstd", "import")
		require.ErrorIs(t, err, image.ErrSize)
	})

	t.Run("pebble", func(t *testing.T) {
		pebbleImg := "-image=" + filepath.Join(dir, "disk.pebble")
		exported := "-file=" + filepath.Join(dir, "disk.img.zst")
		_, err := runArgs(t, nil, pebbleImg, "-dev-type=pebble", testGeo, exported, "-compress=zstd", "import")
		require.NoError(t, err)

		out, err := runArgs(t, nil, pebbleImg, "-dev-type=pebble", testGeo, "-block=5", "-len=8", "dump")
		require.NoError(t, err)
		require.Contains(t, out, "ff ff ff 68 65 6c 6c 6f")
	})
}

func TestRemoteCommands(t *testing.T) {
	srv := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	defer srv.Close()

	cfgJSON, err := json.Marshal(stow.ConfigMap{
		s3.ConfigEndpoint:    srv.URL,
		s3.ConfigAccessKeyID: "fake",
		s3.ConfigSecretKey:   "fake",
	})
	require.NoError(t, err)
	objArgs := []string{"-objstore-cfg=" + string(cfgJSON), "-objstore-container=fixtures", "-compress=s2"}

	cfg, err := conf.ParseArgs("flashimg", append(objArgs, "list"), io.Discard)
	require.NoError(t, err)
	store, err := image.DialStore(cfg.ObjStoreConfig.Kind, cfg.ObjStoreConfig.Config, cfg.ObjStoreConfig.Container, cfg.CompressMode)
	require.NoError(t, err)

	dir := t.TempDir()
	srcImg := "-image=" + filepath.Join(dir, "src.img")
	dstImg := "-image=" + filepath.Join(dir, "dst.img")

	_, err = runArgs(t, nil, srcImg, testGeo, "-block=all", "erase")
	require.NoError(t, err)
	_, err = runArgs(t, nil, srcImg, testGeo, "-block=0", "-hex=deadbeef", "poke")
	require.NoError(t, err)

	_, err = runArgs(t, store, append(objArgs, srcImg, testGeo, "-name=corrupt-superblock", "push")...)
	require.NoError(t, err)

	out, err := runArgs(t, store, append(objArgs, "list")...)
	require.NoError(t, err)
	require.Equal(t, "corrupt-superblock", strings.TrimSpace(out))

	_, err = runArgs(t, store, append(objArgs, dstImg, testGeo, "-name=corrupt-superblock", "pull")...)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "dst.img"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, raw[:4])
	require.True(t, util.IsFilled(raw[4:], flashlib.EraseValue))

	_, err = runArgs(t, store, append(objArgs, dstImg, "-geometry=1/1/512/32", "-name=corrupt-superblock", "pull")...)
	require.True(t, errors.Is(err, image.ErrSize))
}
