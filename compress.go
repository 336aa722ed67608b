package cerise

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	snappy "github.com/eapache/go-xerial-snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionCodec represents the various compression codecs usable for
// stored values.
type CompressionCodec int8

const (
	// CompressionNone no compression
	CompressionNone CompressionCodec = iota
	// CompressionGZIP compression using GZIP
	CompressionGZIP
	// CompressionSnappy compression using snappy
	CompressionSnappy
	// CompressionLZ4 compression using LZ4
	CompressionLZ4
	// CompressionZSTD compression using ZSTD
	CompressionZSTD
)

// CompressionLevelDefault is the constant to use in Compression.Level to
// have the default compression level for any codec.
const CompressionLevelDefault = -1000

func (cc CompressionCodec) String() string {
	return []string{
		"none",
		"gzip",
		"snappy",
		"lz4",
		"zstd",
	}[int(cc)]
}

// UnmarshalText returns a CompressionCodec from its string representation,
// so the codec can be used directly as a CLI flag or config-file value.
func (cc *CompressionCodec) UnmarshalText(text []byte) error {
	codecs := map[string]CompressionCodec{
		"none":   CompressionNone,
		"gzip":   CompressionGZIP,
		"snappy": CompressionSnappy,
		"lz4":    CompressionLZ4,
		"zstd":   CompressionZSTD,
	}
	codec, ok := codecs[string(text)]
	if !ok {
		return fmt.Errorf("cannot parse %q as a compression codec", string(text))
	}
	*cc = codec
	return nil
}

var (
	lz4ReaderPool = sync.Pool{
		New: func() interface{} {
			return lz4.NewReader(nil)
		},
	}

	lz4WriterPool = sync.Pool{
		New: func() interface{} {
			return lz4.NewWriter(nil)
		},
	}

	gzipReaderPool sync.Pool

	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(nil)
		},
	}
)

func compress(cc CompressionCodec, level int, data []byte) ([]byte, error) {
	switch cc {
	case CompressionNone:
		return data, nil
	case CompressionGZIP:
		var (
			err    error
			buf    bytes.Buffer
			writer *gzip.Writer
		)
		if level != CompressionLevelDefault {
			writer, err = gzip.NewWriterLevel(&buf, level)
			if err != nil {
				return nil, err
			}
		} else {
			writer = gzipWriterPool.Get().(*gzip.Writer)
			defer gzipWriterPool.Put(writer)
			writer.Reset(&buf)
		}
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(data), nil
	case CompressionLZ4:
		writer := lz4WriterPool.Get().(*lz4.Writer)
		defer lz4WriterPool.Put(writer)

		var buf bytes.Buffer
		writer.Reset(&buf)

		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZSTD:
		return zstdCompress(ZstdEncoderParams{level}, nil, data)
	default:
		return nil, ConfigurationError(fmt.Sprintf("invalid compression specified (%d)", cc))
	}
}

func decompress(cc CompressionCodec, data []byte) ([]byte, error) {
	switch cc {
	case CompressionNone:
		return data, nil
	case CompressionGZIP:
		var err error
		reader, ok := gzipReaderPool.Get().(*gzip.Reader)
		if !ok {
			reader, err = gzip.NewReader(bytes.NewReader(data))
		} else {
			err = reader.Reset(bytes.NewReader(data))
		}
		if err != nil {
			return nil, err
		}
		defer gzipReaderPool.Put(reader)

		return io.ReadAll(reader)
	case CompressionSnappy:
		return snappy.Decode(data)
	case CompressionLZ4:
		reader := lz4ReaderPool.Get().(*lz4.Reader)
		defer lz4ReaderPool.Put(reader)

		reader.Reset(bytes.NewReader(data))
		return io.ReadAll(reader)
	case CompressionZSTD:
		return zstdDecompress(ZstdDecoderParams{}, nil, data)
	default:
		return nil, FramingError{fmt.Sprintf("invalid compression specified (%d)", cc)}
	}
}

// compressedValueMagic prefixes values stored compressed so Get can detect
// and reverse the codec transparently. The leading NUL byte keeps the magic
// from colliding with textual values.
var compressedValueMagic = []byte{0x00, 'c', 'r', 's'}

// encodeValue applies the configured codec to a value about to be stored.
// Values below the threshold, or with compression disabled, pass through
// untouched.
func encodeValue(conf *Config, value []byte) ([]byte, error) {
	if conf.Compression.Codec == CompressionNone || len(value) < conf.Compression.Threshold {
		return value, nil
	}
	compressed, err := compress(conf.Compression.Codec, conf.Compression.Level, value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(compressedValueMagic)+1+len(compressed))
	out = append(out, compressedValueMagic...)
	out = append(out, byte(conf.Compression.Codec))
	return append(out, compressed...), nil
}

// decodeValue reverses encodeValue on a fetched value. Values without the
// magic prefix pass through untouched.
func decodeValue(value []byte) ([]byte, error) {
	if len(value) < len(compressedValueMagic)+1 || !bytes.HasPrefix(value, compressedValueMagic) {
		return value, nil
	}
	cc := CompressionCodec(value[len(compressedValueMagic)])
	return decompress(cc, value[len(compressedValueMagic)+1:])
}
