package cerise

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

var compressionCodecs = []CompressionCodec{
	CompressionNone,
	CompressionGZIP,
	CompressionSnappy,
	CompressionLZ4,
	CompressionZSTD,
}

func TestCompressRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 32))

	for _, codec := range compressionCodecs {
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := compress(codec, CompressionLevelDefault, payload)
			if err != nil {
				t.Fatal(err)
			}
			if codec != CompressionNone && len(compressed) >= len(payload) {
				t.Errorf("%s did not shrink a repetitive payload (%d -> %d)",
					codec, len(payload), len(compressed))
			}
			decompressed, err := decompress(codec, compressed)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(decompressed, payload) {
				t.Error("payload corrupted through", codec)
			}
		})
	}
}

func TestCompressGzipLevels(t *testing.T) {
	payload := []byte(strings.Repeat("abcdef", 512))

	for _, level := range []int{gzip.BestSpeed, gzip.BestCompression, CompressionLevelDefault} {
		compressed, err := compress(CompressionGZIP, level, payload)
		if err != nil {
			t.Fatal(err)
		}
		decompressed, err := decompress(CompressionGZIP, compressed)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(decompressed, payload) {
			t.Errorf("payload corrupted at gzip level %d", level)
		}
	}
}

func TestEncodeValueFraming(t *testing.T) {
	conf := NewConfig()
	conf.Compression.Codec = CompressionGZIP
	conf.Compression.Threshold = 16

	value := []byte(strings.Repeat("0123456789", 8))
	encoded, err := encodeValue(conf, value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(encoded, compressedValueMagic) {
		t.Fatal("encoded value is missing the magic prefix")
	}
	if got := CompressionCodec(encoded[len(compressedValueMagic)]); got != CompressionGZIP {
		t.Errorf("codec byte = %v, want gzip", got)
	}

	decoded, err := decodeValue(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, value) {
		t.Error("value corrupted through encodeValue/decodeValue")
	}
}

func TestEncodeValueBelowThreshold(t *testing.T) {
	conf := NewConfig()
	conf.Compression.Codec = CompressionSnappy
	conf.Compression.Threshold = 64

	value := []byte("short")
	encoded, err := encodeValue(conf, value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encoded, value) {
		t.Error("a value below the threshold must pass through untouched")
	}
}

func TestEncodeValueDisabled(t *testing.T) {
	conf := NewConfig()

	value := []byte(strings.Repeat("x", 1024))
	encoded, err := encodeValue(conf, value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encoded, value) {
		t.Error("compression disabled must be a no-op")
	}
}

func TestDecodeValuePassthrough(t *testing.T) {
	// values that merely resemble the magic must not be touched
	for _, value := range [][]byte{
		[]byte("plain text"),
		{},
		{0x00},
		{0x00, 'c', 'r'},
		{0x00, 'c', 'r', 's'}, // magic but no codec byte
	} {
		decoded, err := decodeValue(value)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(decoded, value) {
			t.Errorf("decodeValue(%q) altered a plain value", value)
		}
	}
}

func TestDecodeValueBadCodec(t *testing.T) {
	value := append(append([]byte{}, compressedValueMagic...), 0x7f, 'x')
	if _, err := decodeValue(value); !isFraming(err) {
		t.Errorf("decodeValue with an unknown codec byte = %v, want FramingError", err)
	}
}

func TestCompressionCodecUnmarshalText(t *testing.T) {
	for _, codec := range compressionCodecs {
		var parsed CompressionCodec
		if err := parsed.UnmarshalText([]byte(codec.String())); err != nil {
			t.Fatal(err)
		}
		if parsed != codec {
			t.Errorf("UnmarshalText(%q) = %v", codec.String(), parsed)
		}
	}

	var parsed CompressionCodec
	if err := parsed.UnmarshalText([]byte("brotli")); err == nil {
		t.Error("expected an error for an unknown codec name")
	}
}
