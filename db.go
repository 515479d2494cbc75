package solite

import (
	"bytes"
	"encoding/binary"
	"github.com/OneOfOne/xxhash"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
)

const (
	// Magic = "SOLT" in littleEndian
	Magic         uint32 = 0x544c4f53
	FormatVersion uint16 = 1
	IgnoreNoSync         = runtime.GOOS == "openbsd"

	// fixed part of the header, before the collation name
	headerFixedSize = 37
)

var (
	ErrCorrupt           = errors.New("database file corrupt")
	ErrCollationMismatch = errors.New("collation does not match database")
	ErrDatabaseReadOnly  = errors.New("database is in read-only mode")
	ErrDatabaseNotOpen   = errors.New("database not open")
)

// Header is the first record of a database file.
type Header struct {
	magic uint32
	// checksum of the rest of the file
	Checksum uint32

	Version     uint16
	Compression CompressAlgorithm
	ID          uuid.UUID

	PageCount   uint32
	RecordCount uint32
	Collation   string
}

func (h *Header) marshal(buf *bytes.Buffer) {
	var b [headerFixedSize]byte
	binary.LittleEndian.PutUint32(b[0:], h.magic)
	binary.LittleEndian.PutUint32(b[4:], h.Checksum)
	binary.LittleEndian.PutUint16(b[8:], h.Version)
	binary.LittleEndian.PutUint16(b[10:], uint16(h.Compression))
	copy(b[12:28], h.ID[:])
	binary.LittleEndian.PutUint32(b[28:], h.PageCount)
	binary.LittleEndian.PutUint32(b[32:], h.RecordCount)
	b[36] = uint8(len(h.Collation))
	buf.Write(b[:])
	buf.WriteString(h.Collation)
}

// unmarshal decodes the header and validates the checksum over data.
func (h *Header) unmarshal(data []byte) (int, error) {
	if len(data) < headerFixedSize {
		return 0, errors.Wrap(ErrCorrupt, "truncated header")
	}
	h.magic = binary.LittleEndian.Uint32(data[0:])
	if h.magic != Magic {
		return 0, errors.Wrapf(ErrCorrupt, "bad magic %#x", h.magic)
	}
	h.Checksum = binary.LittleEndian.Uint32(data[4:])
	if sum := xxhash.Checksum32(data[8:]); sum != h.Checksum {
		return 0, errors.Wrapf(ErrCorrupt, "checksum %#x, want %#x", sum, h.Checksum)
	}
	h.Version = binary.LittleEndian.Uint16(data[8:])
	if h.Version != FormatVersion {
		return 0, errors.Errorf("unsupported format version %d", h.Version)
	}
	h.Compression = CompressAlgorithm(binary.LittleEndian.Uint16(data[10:]))
	copy(h.ID[:], data[12:28])
	h.PageCount = binary.LittleEndian.Uint32(data[28:])
	h.RecordCount = binary.LittleEndian.Uint32(data[32:])
	end := headerFixedSize + int(data[36])
	if end > len(data) {
		return 0, errors.Wrap(ErrCorrupt, "truncated collation name")
	}
	h.Collation = string(data[headerFixedSize:end])
	return end, nil
}

// DB is an ordered key/value store. Keys are ordered, and considered
// equal, according to the collation the file was created with.
type DB struct {
	// Setting the NoSync flag will cause the database to skip fsync()
	// calls after each Sync. If the package global IgnoreNoSync constant
	// is true, this value is ignored.
	NoSync bool

	// PageSize is the payload size after which a page is closed.
	PageSize int

	path     string
	file     *os.File
	dataref  []byte // mmap'ed readonly while loading
	datasz   int
	readOnly bool
	opened   atomic.Bool

	mu      sync.RWMutex // Protects records, dirty, header and file after Open.
	header  Header
	compare Comparator
	records []KVPair
	dirty   bool
}

func Open(path string, mode os.FileMode, options *Options) (*DB, error) {
	if options == nil {
		options = DefaultOptions
	}
	opts := options.withDefaults()
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	cmp, err := registry.Lookup(opts.Collation)
	if err != nil {
		return nil, err
	}
	if len(opts.Collation) > 255 {
		return nil, errors.Errorf("collation name longer than 255 bytes")
	}
	if _, _, err := opts.Compression.codec(); err != nil {
		return nil, err
	}

	db := &DB{
		NoSync:   opts.NoSync,
		PageSize: opts.PageSize,
		path:     path,
		readOnly: opts.ReadOnly,
		compare:  cmp,
	}
	db.opened.Store(true)

	flag := os.O_RDWR
	if db.readOnly {
		flag = os.O_RDONLY
	}
	if db.file, err = os.OpenFile(db.path, flag, mode); err != nil {
		if os.IsNotExist(err) && db.readOnly {
			_ = db.close()
			return nil, err
		}
		if db.file, err = os.OpenFile(db.path, flag|os.O_CREATE, mode); err != nil {
			_ = db.close()
			return nil, err
		}
	}

	// Lock file so that other processes using in read-write mode cannot
	// use the database at the same time. Read-only handles share the lock.
	if err := waitflock(db, opts.Timeout); err != nil {
		_ = db.file.Close()
		db.file = nil
		_ = db.close()
		return nil, err
	}

	info, err := db.file.Stat()
	if err != nil {
		_ = db.close()
		return nil, errors.Wrap(err, "stat db file")
	}
	if info.Size() == 0 {
		db.init(opts)
	} else if err := db.load(int(info.Size()), opts); err != nil {
		_ = db.close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"path":      path,
		"collation": db.header.Collation,
		"records":   len(db.records),
		"readonly":  db.readOnly,
	}).Info("database opened")
	return db, nil
}

// init sets up the header of a new database. Nothing is written until Sync.
func (db *DB) init(opts Options) {
	db.header = Header{
		magic:       Magic,
		Version:     FormatVersion,
		Compression: opts.Compression,
		ID:          uuid.New(),
		Collation:   opts.Collation,
	}
	db.dirty = !db.readOnly
}

func (db *DB) load(sz int, opts Options) error {
	if err := mmap(db, sz); err != nil {
		return errors.Wrap(err, "mmap db file")
	}
	defer func() {
		if err := munmap(db); err != nil {
			log.WithError(err).Warn("munmap failed")
		}
	}()

	data := db.dataref[:db.datasz]
	off, err := db.header.unmarshal(data)
	if err != nil {
		return err
	}
	if !strings.EqualFold(db.header.Collation, opts.Collation) {
		return errors.Wrapf(ErrCollationMismatch, "file uses %q, opened with %q", db.header.Collation, opts.Collation)
	}
	_, decompressor, err := db.header.Compression.codec()
	if err != nil {
		return errors.Wrap(ErrCorrupt, err.Error())
	}

	records := make([]KVPair, 0, db.header.RecordCount)
	for n := uint32(0); n < db.header.PageCount; n++ {
		kvs, used, err := readPage(data[off:], decompressor)
		if err != nil {
			return errors.Wrapf(err, "page %d", n)
		}
		records = append(records, kvs...)
		off += used
	}
	if uint32(len(records)) != db.header.RecordCount {
		return errors.Wrapf(ErrCorrupt, "found %d records, header says %d", len(records), db.header.RecordCount)
	}
	db.records = records
	return nil
}

func (db *DB) Path() string { return db.path }

func (db *DB) ID() uuid.UUID { return db.header.ID }

func (db *DB) Collation() string { return db.header.Collation }

func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.records)
}

// search returns the position of key and whether a collation-equal key is there.
func (db *DB) search(key []byte) (int, bool) {
	i := sort.Search(len(db.records), func(i int) bool {
		return db.compare(db.records[i].Key, key) >= 0
	})
	return i, i < len(db.records) && db.compare(db.records[i].Key, key) == 0
}

func (db *DB) Get(key []byte) ([]byte, bool, error) {
	if !db.opened.Load() {
		return nil, false, ErrDatabaseNotOpen
	}
	opsTotal.WithLabelValues("get").Inc()
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.opened.Load() {
		return nil, false, ErrDatabaseNotOpen
	}
	i, ok := db.search(key)
	if !ok {
		return nil, false, nil
	}
	return db.records[i].Value, true, nil
}

// Put stores value under key. A stored key that collates equal to key is
// replaced, key bytes included.
func (db *DB) Put(key, value []byte) error {
	if err := db.writable(); err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("empty key")
	}
	opsTotal.WithLabelValues("put").Inc()
	kv := KVPair{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.opened.Load() {
		return ErrDatabaseNotOpen
	}
	i, ok := db.search(key)
	if ok {
		db.records[i] = kv
	} else {
		db.records = append(db.records, KVPair{})
		copy(db.records[i+1:], db.records[i:])
		db.records[i] = kv
	}
	db.dirty = true
	return nil
}

// Delete removes the key that collates equal to key, if any.
func (db *DB) Delete(key []byte) (bool, error) {
	if err := db.writable(); err != nil {
		return false, err
	}
	opsTotal.WithLabelValues("delete").Inc()
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.opened.Load() {
		return false, ErrDatabaseNotOpen
	}
	i, ok := db.search(key)
	if !ok {
		return false, nil
	}
	db.records = append(db.records[:i], db.records[i+1:]...)
	db.dirty = true
	return true, nil
}

// Scan calls fn for each key in [start, end) in collation order. A nil
// bound is unbounded. fn must not modify key or value, nor call
// Put or Delete.
func (db *DB) Scan(start, end []byte, fn func(key, value []byte) error) error {
	if !db.opened.Load() {
		return ErrDatabaseNotOpen
	}
	opsTotal.WithLabelValues("scan").Inc()
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.opened.Load() {
		return ErrDatabaseNotOpen
	}
	i := 0
	if start != nil {
		i, _ = db.search(start)
	}
	for ; i < len(db.records); i++ {
		kv := db.records[i]
		if end != nil && db.compare(kv.Key, end) >= 0 {
			break
		}
		if err := fn(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) writable() error {
	if !db.opened.Load() {
		return ErrDatabaseNotOpen
	}
	if db.readOnly {
		return ErrDatabaseReadOnly
	}
	return nil
}

// Sync writes all records to the file.
func (db *DB) Sync() error {
	if err := db.writable(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.opened.Load() {
		return ErrDatabaseNotOpen
	}
	return db.sync()
}

// sync writes the file. Caller holds db.mu for writing so no Put lands
// between encoding and clearing dirty.
func (db *DB) sync() error {
	buf, err := db.encode()
	if err != nil {
		return err
	}

	if _, err := db.file.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "write db file")
	}
	if err := db.file.Truncate(int64(len(buf))); err != nil {
		return errors.Wrap(err, "truncate db file")
	}
	if !db.NoSync || IgnoreNoSync {
		if err := db.file.Sync(); err != nil {
			return errors.Wrap(err, "fsync db file")
		}
	}
	syncedBytes.Add(float64(len(buf)))
	db.dirty = false

	log.WithFields(log.Fields{
		"path":    db.path,
		"records": db.header.RecordCount,
		"pages":   db.header.PageCount,
		"bytes":   len(buf),
	}).Info("database synced")
	return nil
}

// encode serializes the header and all pages. Caller holds db.mu.
func (db *DB) encode() ([]byte, error) {
	compressor, _, err := db.header.Compression.codec()
	if err != nil {
		return nil, err
	}
	pageSize := db.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	body := &bytes.Buffer{}
	pw := &pageWriter{out: body, pageSize: pageSize, compressor: compressor}
	for _, kv := range db.records {
		pw.add(kv)
	}
	pw.flush()

	db.header.PageCount = pw.pages
	db.header.RecordCount = uint32(len(db.records))
	out := &bytes.Buffer{}
	out.Grow(headerFixedSize + len(db.header.Collation) + body.Len())
	db.header.marshal(out)
	out.Write(body.Bytes())
	b := out.Bytes()
	db.header.Checksum = xxhash.Checksum32(b[8:])
	binary.LittleEndian.PutUint32(b[4:], db.header.Checksum)
	return b, nil
}

// Close syncs pending writes and releases the file. Writes that race with
// Close either reach the file or fail with ErrDatabaseNotOpen.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.opened.Load() {
		return ErrDatabaseNotOpen
	}
	if db.dirty && !db.readOnly {
		if err := db.sync(); err != nil {
			return err
		}
	}
	log.WithField("path", db.path).Info("database closed")
	return db.close()
}

// close releases the file. Caller holds db.mu, or has not shared db yet.
func (db *DB) close() error {
	if !db.opened.CompareAndSwap(true, false) {
		return nil
	}

	// Close file handles.
	if db.file != nil {
		if err := funlock(db); err != nil {
			log.WithError(err).Warnf("close %s: funlock error", db.path)
		}

		// Close the file descriptor.
		if err := db.file.Close(); err != nil {
			return errors.Wrap(err, "db file closed")
		}
		db.file = nil
	}

	db.records = nil
	return nil
}
