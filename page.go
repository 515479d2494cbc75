package solite

import (
	"bytes"
	"encoding/binary"
	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

var (
	//DefaultPageSize = os.Getpagesize()
	// default system pagesize for most OS
	DefaultPageSize = 4096
)

type PageFlag uint8

const (
	// data of key-value pair
	PageData PageFlag = 1 << iota
	// payload is stored with records compressed
	PageCompressed
)

// size: 13
type Page struct {
	Flag PageFlag
	// how many kv in page
	Count uint32
	// size of payload
	Len      uint32
	CheckSum uint32
}

const pageHeaderSize = 13

func (p *Page) marshal(buf *bytes.Buffer) {
	var b [pageHeaderSize]byte
	b[0] = byte(p.Flag)
	binary.LittleEndian.PutUint32(b[1:], p.Count)
	binary.LittleEndian.PutUint32(b[5:], p.Len)
	binary.LittleEndian.PutUint32(b[9:], p.CheckSum)
	buf.Write(b[:])
}

func (p *Page) unmarshal(b []byte) error {
	if len(b) < pageHeaderSize {
		return errors.Wrap(ErrCorrupt, "truncated page header")
	}
	p.Flag = PageFlag(b[0])
	p.Count = binary.LittleEndian.Uint32(b[1:])
	p.Len = binary.LittleEndian.Uint32(b[5:])
	p.CheckSum = binary.LittleEndian.Uint32(b[9:])
	return nil
}

// pageWriter packs records into pages of about pageSize bytes. Key
// prefixes are shared only within a page so each page decodes alone.
type pageWriter struct {
	out        *bytes.Buffer
	pageSize   int
	compressor Compressor

	payload bytes.Buffer
	count   uint32
	prevKey []byte
	pages   uint32
}

func (w *pageWriter) add(kv KVPair) {
	w.payload.Write(kv.Marshal(w.prevKey, w.compressor))
	w.prevKey = kv.Key
	w.count++
	if w.payload.Len() >= w.pageSize {
		w.flush()
	}
}

func (w *pageWriter) flush() {
	if w.count == 0 {
		return
	}
	p := Page{
		Flag:     PageData,
		Count:    w.count,
		Len:      uint32(w.payload.Len()),
		CheckSum: xxhash.Checksum32(w.payload.Bytes()),
	}
	if w.compressor != nil {
		p.Flag = setFlag(p.Flag, PageCompressed)
	}
	p.marshal(w.out)
	w.out.Write(w.payload.Bytes())
	w.payload.Reset()
	w.count = 0
	w.prevKey = nil
	w.pages++
}

// readPage decodes the page at the start of data and returns its records
// and the number of bytes consumed.
func readPage(data []byte, decompressor DeCompressor) ([]KVPair, int, error) {
	var p Page
	if err := p.unmarshal(data); err != nil {
		return nil, 0, err
	}
	if !hasFlag(p.Flag, PageData) {
		return nil, 0, errors.Wrapf(ErrCorrupt, "unexpected page flag %#x", p.Flag)
	}
	end := pageHeaderSize + int(p.Len)
	if end > len(data) {
		return nil, 0, errors.Wrap(ErrCorrupt, "truncated page payload")
	}
	payload := data[pageHeaderSize:end]
	if sum := xxhash.Checksum32(payload); sum != p.CheckSum {
		return nil, 0, errors.Wrapf(ErrCorrupt, "page checksum %#x, want %#x", sum, p.CheckSum)
	}
	if hasFlag(p.Flag, PageCompressed) && decompressor == nil {
		return nil, 0, errors.Wrap(ErrCorrupt, "compressed page without compression algorithm")
	}

	r := bytes.NewReader(payload)
	kvs := make([]KVPair, 0, p.Count)
	var prevKey []byte
	for n := uint32(0); n < p.Count; n++ {
		var kv KVPair
		if err := kv.Unmarshal(r, prevKey, decompressor); err != nil {
			return nil, 0, errors.Wrapf(err, "record %d", n)
		}
		kvs = append(kvs, kv)
		prevKey = kv.Key
	}
	if r.Len() != 0 {
		return nil, 0, errors.Wrapf(ErrCorrupt, "%d trailing bytes in page", r.Len())
	}
	return kvs, end, nil
}
