package solite

import (
	"fmt"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.solite")
}

func keysOf(t *testing.T, db *DB, start, end []byte) []string {
	var keys []string
	require.NoError(t, db.Scan(start, end, func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	return keys
}

func TestOpen(t *testing.T) {
	assert := assertion.New(t)
	testDB := testDBPath(t)
	// open un-exist with readonly
	db, err := Open(testDB, 0755, &Options{ReadOnly: true})
	assert.Nil(db)
	assert.Error(err)
	assert.True(os.IsNotExist(err))

	// open with create
	db, err = Open(testDB, 0755, nil)
	require.NoError(t, err)
	assert.Equal(CompSnappy, db.header.Compression)
	assert.Equal(Magic, db.header.magic)
	assert.Equal(CollationNatSort, db.Collation())
	assert.Equal(testDB, db.Path())
	id := db.ID()
	assert.NoError(db.Put([]byte("k1"), []byte("v1")))

	// concurrent open with write and readonly
	dbr, err := Open(testDB, 0755, &Options{ReadOnly: true})
	assert.Nil(dbr)
	assert.True(errors.Is(err, ErrWriteByOther))

	assert.NoError(db.Close())
	assert.True(errors.Is(db.Close(), ErrDatabaseNotOpen))

	// reopen with readonly
	db, err = Open(testDB, 0755, &Options{ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(Magic, db.header.magic)
	assert.Equal(id, db.ID())
	assert.Equal(1, db.Len())
	assert.True(errors.Is(db.Put([]byte("k2"), nil), ErrDatabaseReadOnly))
	assert.True(errors.Is(db.Sync(), ErrDatabaseReadOnly))

	// concurrent open with 2 readonly
	dbr, err = Open(testDB, 0755, &Options{ReadOnly: true})
	require.NoError(t, err)
	v, ok, err := dbr.Get([]byte("k1"))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal([]byte("v1"), v)

	assert.NoError(db.Close())
	assert.NoError(dbr.Close())
}

func TestOpenWaitsForLock(t *testing.T) {
	assert := assertion.New(t)
	path := testDBPath(t)
	db, err := Open(path, 0644, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = Open(path, 0644, &Options{Timeout: 100 * time.Millisecond})
	assert.True(errors.Is(err, ErrWriteByOther))
	assert.GreaterOrEqual(time.Since(start), 100*time.Millisecond)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = db.Close()
	}()
	db2, err := Open(path, 0644, &Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.NoError(db2.Close())
}

func TestNaturalOrder(t *testing.T) {
	assert := assertion.New(t)
	path := testDBPath(t)
	db, err := Open(path, 0644, nil)
	require.NoError(t, err)
	for _, k := range []string{"img12", "file10", "file2", "img10", "file1"} {
		require.NoError(t, db.Put([]byte(k), []byte("v-"+k)))
	}
	want := []string{"file1", "file2", "file10", "img10", "img12"}
	assert.Equal(want, keysOf(t, db, nil, nil))
	require.NoError(t, db.Close())

	db, err = Open(path, 0644, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(want, keysOf(t, db, nil, nil))
	v, ok, err := db.Get([]byte("img012"))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("v-img12", string(v))
}

func TestCollationEqualKeys(t *testing.T) {
	assert := assertion.New(t)
	db, err := Open(testDBPath(t), 0644, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("file2"), []byte("a")))
	require.NoError(t, db.Put([]byte("file02"), []byte("b")))
	assert.Equal(1, db.Len())
	assert.Equal([]string{"file02"}, keysOf(t, db, nil, nil))
	v, ok, err := db.Get([]byte("file002"))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("b", string(v))

	ok, err = db.Delete([]byte("file2"))
	assert.NoError(err)
	assert.True(ok)
	ok, err = db.Delete([]byte("file2"))
	assert.NoError(err)
	assert.False(ok)
	_, ok, _ = db.Get([]byte("file2"))
	assert.False(ok)
	assert.Equal(0, db.Len())
	assert.Error(db.Put(nil, []byte("x")))
}

func TestScan(t *testing.T) {
	assert := assertion.New(t)
	db, err := Open(testDBPath(t), 0644, nil)
	require.NoError(t, err)
	defer db.Close()
	for _, k := range []string{"file1", "file2", "file3", "file10"} {
		require.NoError(t, db.Put([]byte(k), nil))
	}

	assert.Equal([]string{"file2", "file3"}, keysOf(t, db, []byte("file2"), []byte("file10")))
	assert.Equal([]string{"file3", "file10"}, keysOf(t, db, []byte("file03"), nil))
	assert.Equal([]string{"file1"}, keysOf(t, db, nil, []byte("file2")))

	stop := errors.New("stop")
	var seen int
	err = db.Scan(nil, nil, func(key, value []byte) error {
		seen++
		return stop
	})
	assert.Equal(stop, err)
	assert.Equal(1, seen)
}

func TestBinaryCollation(t *testing.T) {
	db, err := Open(testDBPath(t), 0644, &Options{Collation: CollationBinary, Compression: CompNone})
	require.NoError(t, err)
	defer db.Close()
	for _, k := range []string{"file2", "file10", "file1"} {
		require.NoError(t, db.Put([]byte(k), nil))
	}
	assertion.Equal(t, []string{"file1", "file10", "file2"}, keysOf(t, db, nil, nil))
}

func TestCollationMismatch(t *testing.T) {
	assert := assertion.New(t)
	path := testDBPath(t)
	db, err := Open(path, 0644, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, 0644, &Options{Collation: CollationBinary})
	assert.True(errors.Is(err, ErrCollationMismatch))

	_, err = Open(path, 0644, &Options{Collation: "nocase"})
	assert.True(errors.Is(err, ErrNoSuchCollation))

	// the failed opens released the lock
	db, err = Open(path, 0644, &Options{Collation: "NatSort"})
	require.NoError(t, err)
	assert.NoError(db.Close())
}

func TestCustomCollation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("reverse", func(a, b []byte) int { return NatSortComparator(b, a) }))
	db, err := Open(testDBPath(t), 0644, &Options{Collation: "reverse", Registry: r})
	require.NoError(t, err)
	defer db.Close()
	for _, k := range []string{"a1", "a10", "a2"} {
		require.NoError(t, db.Put([]byte(k), nil))
	}
	assertion.Equal(t, []string{"a10", "a2", "a1"}, keysOf(t, db, nil, nil))
}

func TestCompressionRoundTrip(t *testing.T) {
	for _, alg := range []CompressAlgorithm{CompSnappy, CompNone, CompLz4, CompZstd} {
		t.Run(alg.String(), func(t *testing.T) {
			assert := assertion.New(t)
			path := testDBPath(t)
			db, err := Open(path, 0644, &Options{Compression: alg, PageSize: 256, NoSync: true})
			require.NoError(t, err)
			for i := 0; i < 500; i++ {
				v := []byte(fmt.Sprintf("value of key %d, value of key %d, value of key %d", i, i, i))
				require.NoError(t, db.Put([]byte(fmt.Sprintf("key%d", i)), v))
			}
			require.NoError(t, db.Close())

			db, err = Open(path, 0644, &Options{Compression: CompNone})
			require.NoError(t, err)
			defer db.Close()
			assert.Equal(alg, db.header.Compression)
			assert.Greater(db.header.PageCount, uint32(1))
			assert.Equal(500, db.Len())
			var prev []byte
			require.NoError(t, db.Scan(nil, nil, func(key, _ []byte) error {
				if prev != nil {
					assert.Equal(Less, NatSort(prev, key))
				}
				prev = key
				return nil
			}))
			v, ok, err := db.Get([]byte("key0321"))
			assert.NoError(err)
			assert.True(ok)
			assert.Equal("value of key 321, value of key 321, value of key 321", string(v))
		})
	}
}

func TestOpenCorrupt(t *testing.T) {
	assert := assertion.New(t)
	path := testDBPath(t)
	db, err := Open(path, 0644, nil)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("file1"), []byte("x")))
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = Open(path, 0644, nil)
	assert.True(errors.Is(err, ErrCorrupt))

	require.NoError(t, os.WriteFile(path, []byte("not a database file at all, not even close to one"), 0644))
	_, err = Open(path, 0644, nil)
	assert.True(errors.Is(err, ErrCorrupt))
}

func TestClosed(t *testing.T) {
	assert := assertion.New(t)
	db, err := Open(testDBPath(t), 0644, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, _, err = db.Get([]byte("k"))
	assert.True(errors.Is(err, ErrDatabaseNotOpen))
	assert.True(errors.Is(db.Put([]byte("k"), nil), ErrDatabaseNotOpen))
	_, err = db.Delete([]byte("k"))
	assert.True(errors.Is(err, ErrDatabaseNotOpen))
	assert.True(errors.Is(db.Scan(nil, nil, nil), ErrDatabaseNotOpen))
}

func TestCloseRacingPuts(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path, 0644, &Options{NoSync: true})
	require.NoError(t, err)

	const writers = 8
	stored := make([][]string, writers)
	done := make(chan struct{})
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; ; i++ {
				key := fmt.Sprintf("w%d-key%d", w, i)
				err := db.Put([]byte(key), []byte(key))
				if errors.Is(err, ErrDatabaseNotOpen) {
					return
				}
				if !assertion.NoError(t, err) {
					return
				}
				stored[w] = append(stored[w], key)
				if _, _, err := db.Get([]byte(key)); errors.Is(err, ErrDatabaseNotOpen) {
					return
				}
			}
		}(w)
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, db.Close())
	for w := 0; w < writers; w++ {
		<-done
	}

	db, err = Open(path, 0644, nil)
	require.NoError(t, err)
	defer db.Close()
	total := 0
	for _, keys := range stored {
		total += len(keys)
		for _, key := range keys {
			_, ok, err := db.Get([]byte(key))
			require.NoError(t, err)
			require.True(t, ok, "acknowledged put of %s lost by Close", key)
		}
	}
	assertion.Equal(t, total, db.Len())
}

func TestStoreMetrics(t *testing.T) {
	assert := assertion.New(t)
	db, err := Open(testDBPath(t), 0644, &Options{NoSync: true})
	require.NoError(t, err)
	defer db.Close()

	puts := testutil.ToFloat64(opsTotal.WithLabelValues("put"))
	gets := testutil.ToFloat64(opsTotal.WithLabelValues("get"))
	synced := testutil.ToFloat64(syncedBytes)

	require.NoError(t, db.Put([]byte("file1"), []byte("x")))
	require.NoError(t, db.Put([]byte("file2"), []byte("y")))
	_, _, err = db.Get([]byte("file1"))
	require.NoError(t, err)
	require.NoError(t, db.Sync())

	assert.Equal(puts+2, testutil.ToFloat64(opsTotal.WithLabelValues("put")))
	assert.Equal(gets+1, testutil.ToFloat64(opsTotal.WithLabelValues("get")))
	info, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Equal(synced+float64(info.Size()), testutil.ToFloat64(syncedBytes))
}
