package solite

import (
	"bytes"
	"encoding/binary"
	"github.com/pkg/errors"
	"io"
)

type KVFlag uint8

// minKVSize = flag + kLen + vLen
const minKVSize = 3

const (
	KVKeyPrefixed KVFlag = 1 << iota
	KVKeyCompressed
	KVValueCompressed
)

type KVPair struct {
	Key   []byte
	Value []byte
}

// Marshal encodes kv as
//
//	flag | [prefixLen] | uvarint(kLen) | key | uvarint(vLen) | value
//
// where the key shares prefixLen bytes with prevKey.
func (kv KVPair) Marshal(prevKey []byte, compressor Compressor) []byte {
	var flag KVFlag
	prefixLen := getCommonPrefix(prevKey, kv.Key)
	if prefixLen > 0 {
		flag = setFlag(flag, KVKeyPrefixed)
	}
	key := kv.Key[prefixLen:]
	value := kv.Value
	if compressor != nil {
		key, flag = tryCompress(key, compressor, flag, KVKeyCompressed)
		value, flag = tryCompress(value, compressor, flag, KVValueCompressed)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 2+2*binary.MaxVarintLen64+len(key)+len(value)))
	var lenBuf [binary.MaxVarintLen64]byte
	buf.WriteByte(byte(flag))
	if hasFlag(flag, KVKeyPrefixed) {
		buf.WriteByte(prefixLen)
	}
	buf.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(key)))])
	buf.Write(key)
	buf.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(value)))])
	buf.Write(value)
	return buf.Bytes()
}

// tryCompress keeps the compressed form only when it is smaller.
func tryCompress(in []byte, compressor Compressor, flag, bit KVFlag) ([]byte, KVFlag) {
	flag = setFlag(flag, bit)
	if len(in) == 0 {
		return in, clearFlag(flag, bit)
	}
	out := compressor(in)
	if len(out) >= len(in) {
		return in, clearFlag(flag, bit)
	}
	return out, flag
}

func (kv *KVPair) clear() {
	kv.Key = nil
	kv.Value = nil
}

// Unmarshal reads one record from r. prevKey is the key of the record
// before it in the same page.
func (kv *KVPair) Unmarshal(r *bytes.Reader, prevKey []byte, decompressor DeCompressor) (err error) {
	kv.clear()
	if r.Len() < minKVSize {
		return errors.Wrapf(ErrCorrupt, "KV data less than min size %d, flag + keyLen + valueLen", minKVSize)
	}
	var prefix, key, val []byte
	_flag, _ := r.ReadByte()
	flag := KVFlag(_flag)
	if hasFlag(flag, KVKeyPrefixed) {
		prefixedLen, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(ErrCorrupt, "failed to read prefix length")
		}
		if len(prevKey) < int(prefixedLen) {
			return errors.Wrap(ErrCorrupt, "wrong prefixed key len")
		}
		prefix = prevKey[:prefixedLen]
	}
	if decompressor == nil && (hasFlag(flag, KVKeyCompressed) || hasFlag(flag, KVValueCompressed)) {
		return errors.Wrap(ErrCorrupt, "record is compressed but decompressor is nil")
	}
	if key, err = readChunk(r, "key"); err != nil {
		return err
	}
	if val, err = readChunk(r, "value"); err != nil {
		return err
	}

	if hasFlag(flag, KVKeyCompressed) {
		key, err = decompressor(key)
		if err != nil {
			return errors.Wrap(err, "failed to decompress key")
		}
	}
	if hasFlag(flag, KVValueCompressed) {
		val, err = decompressor(val)
		if err != nil {
			return errors.Wrap(err, "failed to decompress value")
		}
	}
	full := make([]byte, 0, len(prefix)+len(key))
	kv.Key = append(append(full, prefix...), key...)
	kv.Value = val
	return nil
}

func readChunk(r *bytes.Reader, what string) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "failed to read %s length", what)
	}
	if n > uint64(r.Len()) {
		return nil, errors.Wrapf(ErrCorrupt, "%s length %d exceeds remaining %d bytes", what, n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", what)
	}
	return b, nil
}

func getCommonPrefix(a, b []byte) (length uint8) {
	if a == nil || b == nil {
		return
	}
	for i, v := range b {
		if i >= len(a) || v != a[i] {
			return
		}
		length++
		if length >= 255 {
			return
		}
	}
	return
}
