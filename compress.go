package solite

import (
	"bytes"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"strings"
)

type CompressAlgorithm uint16

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
	CompZstd
)

var compressionNames = map[CompressAlgorithm]string{
	CompSnappy: "snappy",
	CompNone:   "none",
	CompLz4:    "lz4",
	CompZstd:   "zstd",
}

func (c CompressAlgorithm) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return "unknown"
}

func ParseCompression(name string) (CompressAlgorithm, error) {
	for alg, n := range compressionNames {
		if strings.EqualFold(n, name) {
			return alg, nil
		}
	}
	return 0, errors.Errorf("unknown compression %q", name)
}

func (c *CompressAlgorithm) UnmarshalYAML(node *yaml.Node) error {
	alg, err := ParseCompression(node.Value)
	if err != nil {
		return err
	}
	*c = alg
	return nil
}

type Compressor func([]byte) []byte
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) []byte {
		return snappy.Encode(nil, in)
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) []byte {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			panic(err)
		}
		if err := writer.Close(); err != nil {
			panic(err)
		}
		return buf.Bytes()
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

// encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)

	ZstdCompress Compressor = func(in []byte) []byte {
		return zstdEncoder.EncodeAll(in, nil)
	}
	ZstdDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return zstdDecoder.DecodeAll(in, nil)
	}
)

// codec returns the functions for c. Both are nil for CompNone.
func (c CompressAlgorithm) codec() (Compressor, DeCompressor, error) {
	switch c {
	case CompNone:
		return nil, nil, nil
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress, nil
	case CompLz4:
		return Lz4Compress, Lz4DeCompress, nil
	case CompZstd:
		return ZstdCompress, ZstdDeCompress, nil
	}
	return nil, nil, errors.Errorf("unknown compression algorithm %d", c)
}
