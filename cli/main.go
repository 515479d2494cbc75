package main

import (
	"bufio"
	"database/sql"
	"encoding/binary"
	"flag"
	"fmt"
	"github.com/asg017/solite"
	"github.com/asg017/solite/sqlite"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"os"
	"path/filepath"
	"slices"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.WithError(err).Fatal("natsort")
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("natsort", flag.ContinueOnError)
	reverse := fs.Bool("r", false, "reverse the result")
	engine := fs.String("engine", "memory", "sort with memory, store or sqlite")
	dbPath := fs.String("db", "", "new or empty database file for -engine=store")
	config := fs.String("config", "", "YAML options for -engine=store")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.SetLevel(log.WarnLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	in := stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return errors.Wrap(err, "open input")
		}
		defer f.Close()
		in = f
	}
	lines, err := readLines(in)
	if err != nil {
		return errors.Wrap(err, "read input")
	}

	sorted, err := sortLines(*engine, lines, *dbPath, *config)
	if err != nil {
		return err
	}
	if *reverse {
		slices.Reverse(sorted)
	}

	w := bufio.NewWriter(stdout)
	for _, line := range sorted {
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// sortLines returns a stable natural-order permutation of lines.
func sortLines(engine string, lines []string, dbPath, config string) ([]string, error) {
	switch engine {
	case "memory":
		sorted := slices.Clone(lines)
		solite.SortStrings(sorted)
		return sorted, nil
	case "store":
		return sortWithStore(lines, dbPath, config)
	case "sqlite":
		return sortWithSQLite(lines)
	}
	return nil, errors.Errorf("unknown engine %q", engine)
}

// appendSpelling adds line to a value holding length-prefixed lines.
func appendSpelling(value []byte, line string) []byte {
	value = binary.AppendUvarint(value, uint64(len(line)))
	return append(value, line...)
}

func spellings(value []byte) ([]string, error) {
	var out []string
	for len(value) > 0 {
		n, used := binary.Uvarint(value)
		if used <= 0 || uint64(len(value)-used) < n {
			return nil, errors.Wrap(solite.ErrCorrupt, "bad line list")
		}
		value = value[used:]
		out = append(out, string(value[:n]))
		value = value[n:]
	}
	return out, nil
}

// sortWithStore keys a store by line. Lines that collate equal share a
// key whose value lists every one of them in input order.
func sortWithStore(lines []string, path, config string) ([]string, error) {
	if path == "" {
		dir, err := os.MkdirTemp("", "natsort")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "lines.solite")
	}
	opts := solite.DefaultOptions
	if config != "" {
		var err error
		if opts, err = solite.LoadOptions(config); err != nil {
			return nil, err
		}
	}
	db, err := solite.Open(path, 0644, opts)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if n := db.Len(); n != 0 {
		return nil, errors.Errorf("store %s already holds %d keys", path, n)
	}

	// the store rejects empty keys; "" sorts before any other line
	var sorted []string
	for _, line := range lines {
		if line == "" {
			sorted = append(sorted, line)
			continue
		}
		key := []byte(line)
		v, _, err := db.Get(key)
		if err != nil {
			return nil, err
		}
		if err := db.Put(key, appendSpelling(slices.Clone(v), line)); err != nil {
			return nil, err
		}
	}

	err = db.Scan(nil, nil, func(_, value []byte) error {
		same, err := spellings(value)
		if err != nil {
			return err
		}
		sorted = append(sorted, same...)
		return nil
	})
	return sorted, err
}

func sortWithSQLite(lines []string) ([]string, error) {
	db, err := sql.Open(sqlite.DriverName, ":memory:")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("CREATE TABLE lines(line TEXT)"); err != nil {
		return nil, errors.Wrap(err, "create table")
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	stmt, err := tx.Prepare("INSERT INTO lines(line) VALUES (?)")
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	for _, line := range lines {
		if _, err := stmt.Exec(line); err != nil {
			_ = tx.Rollback()
			return nil, errors.Wrap(err, "insert line")
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// rowid keeps lines that collate equal in input order
	rows, err := db.Query("SELECT line FROM lines ORDER BY line COLLATE natsort, rowid")
	if err != nil {
		return nil, errors.Wrap(err, "query lines")
	}
	defer rows.Close()
	sorted := make([]string, 0, len(lines))
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		sorted = append(sorted, line)
	}
	return sorted, rows.Err()
}
