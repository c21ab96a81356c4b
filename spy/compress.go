package spy

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// history records are small and well under this once decoded
const maxRecordSize = 64 << 20

// The coders are shared, EncodeAll and DecodeAll are safe for concurrent use.
var (
	recordEncoder = sync.OnceValue(func() *zstd.Encoder {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(err) // only fails on invalid options
		}
		return enc
	})
	recordDecoder = sync.OnceValue(func() *zstd.Decoder {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(maxRecordSize))
		if err != nil {
			panic(err)
		}
		return dec
	})
)

// compressRecord returns the zstd frame for an encoded history record.
func compressRecord(data []byte) []byte {
	return recordEncoder().EncodeAll(data, nil)
}

// decompressRecord reverses compressRecord.
func decompressRecord(frame []byte) ([]byte, error) {
	return recordDecoder().DecodeAll(frame, nil)
}
