package solite

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"time"
)

var ErrWriteByOther = errors.New("db opened with write mode by another process")

// flock acquires an advisory lock on a file descriptor.
func flock(db *DB) error {
	flag := unix.LOCK_SH
	if !db.readOnly {
		flag = unix.LOCK_EX
	}

	err := unix.Flock(int(db.file.Fd()), flag|unix.LOCK_NB)
	if err == nil {
		return nil
	} else if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) { // linux & unix
		return ErrWriteByOther
	}
	return errors.Wrap(err, "flock failed: unknown error")
}

// waitflock retries flock until timeout. A zero timeout tries once.
func waitflock(db *DB, timeout time.Duration) error {
	start := time.Now()
	for {
		err := flock(db)
		if !errors.Is(err, ErrWriteByOther) {
			return err
		}
		if timeout <= 0 || time.Since(start) > timeout {
			return err
		}
		log.WithField("path", db.path).Debug("db locked by another handle, waiting")
		// Wait for a bit and try again.
		time.Sleep(50 * time.Millisecond)
	}
}

// funlock releases an advisory lock on a file descriptor.
func funlock(db *DB) error {
	return unix.Flock(int(db.file.Fd()), unix.LOCK_UN)
}

// mmap memory maps a DB's data file.
func mmap(db *DB, sz int) error {
	b, err := unix.Mmap(int(db.file.Fd()), 0, sz, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}

	// The file is decoded front to back.
	if err := unix.Madvise(b, unix.MADV_SEQUENTIAL); err != nil {
		_ = unix.Munmap(b)
		return errors.Wrap(err, "madvise error")
	}

	db.dataref = b
	db.datasz = sz
	return nil
}

// munmap unmaps a DB's data file from memory.
func munmap(db *DB) error {
	// Ignore the unmap if we have no mapped data.
	if db.dataref == nil {
		return nil
	}

	err := unix.Munmap(db.dataref)
	db.dataref = nil
	db.datasz = 0
	return err
}
