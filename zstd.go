package cerise

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstd encoders are built lazily and cached per compression level, since
// each one is expensive to construct and safe for concurrent use.

type ZstdEncoderParams struct {
	Level int
}

type ZstdDecoderParams struct {
}

var zstdEncMap, zstdDecMap sync.Map

func getZstdEncoder(params ZstdEncoderParams) *zstd.Encoder {
	if ret, ok := zstdEncMap.Load(params); ok {
		return ret.(*zstd.Encoder)
	}
	// It's possible to race and create multiple new writers.
	// Only one will survive GC after use.
	encoderLevel := zstd.SpeedDefault
	if params.Level != CompressionLevelDefault {
		encoderLevel = zstd.EncoderLevelFromZstd(params.Level)
	}
	zstdEnc, _ := zstd.NewWriter(nil, zstd.WithZeroFrames(true),
		zstd.WithEncoderLevel(encoderLevel))
	zstdEncMap.Store(params, zstdEnc)
	return zstdEnc
}

func getZstdDecoder(params ZstdDecoderParams) *zstd.Decoder {
	if ret, ok := zstdDecMap.Load(params); ok {
		return ret.(*zstd.Decoder)
	}
	zstdDec, _ := zstd.NewReader(nil)
	zstdDecMap.Store(params, zstdDec)
	return zstdDec
}

func zstdDecompress(params ZstdDecoderParams, dst, src []byte) ([]byte, error) {
	return getZstdDecoder(params).DecodeAll(src, dst)
}

func zstdCompress(params ZstdEncoderParams, dst, src []byte) ([]byte, error) {
	return getZstdEncoder(params).EncodeAll(src, dst), nil
}
