package compress

import (
	"bytes"
	"io"
	"testing"
)

func TestModeNames(t *testing.T) {
	for _, mode := range []Mode{ModeIdentity, ModeS2, ModeGzip, ModeZstd} {
		if actual := ModeFromName(mode.AlgoName()); actual != mode {
			t.Fatalf("Mode %s parsed back as %s", mode, actual)
		}
	}
	if mode := ModeFromName("lzma"); mode != ModeUnknown {
		t.Fatalf("Unsupported name parsed as %s", mode)
	}
}

func TestModeStreams(t *testing.T) {
	data := bytes.Repeat([]byte{0xFF, 0xFF, 0xFF, 'f', 'l', 'a', 's', 'h'}, 4096)

	for _, mode := range []Mode{ModeIdentity, ModeS2, ModeGzip, ModeZstd} {
		t.Run(mode.String(), func(t *testing.T) {
			var compressed bytes.Buffer
			wtr, err := mode.NewWriter(&compressed)
			if err != nil {
				t.Fatalf("Could not create compressor: %s", err)
			}
			if _, err = wtr.Write(data); err != nil {
				t.Fatalf("Compression failed: %s", err)
			}
			if err = wtr.Close(); err != nil {
				t.Fatalf("Compressor close failed: %s", err)
			}
			if mode != ModeIdentity && compressed.Len() >= len(data) {
				t.Fatalf("%s did not shrink a repetitive stream (%d bytes)", mode, compressed.Len())
			}

			rdr, err := mode.NewReader(io.NopCloser(&compressed))
			if err != nil {
				t.Fatalf("Could not create decompressor: %s", err)
			}
			defer rdr.Close()
			readBack, err := io.ReadAll(rdr)
			if err != nil {
				t.Fatalf("Decompression failed: %s", err)
			}
			if !bytes.Equal(readBack, data) {
				t.Fatal("Decompressed stream did not match the original")
			}
		})
	}

	if _, err := ModeUnknown.NewWriter(io.Discard); err == nil {
		t.Fatal("Expected unknown mode to be rejected")
	}
}
