// Package sqlite installs the solite collations and functions into
// SQLite connections opened through github.com/mattn/go-sqlite3.
package sqlite

import (
	"database/sql"
	"github.com/asg017/solite"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DriverName is a database/sql driver whose connections have every
// collation of solite.DefaultRegistry and the solite functions installed.
const DriverName = "sqlite3_solite"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return Register(conn, solite.DefaultRegistry)
		},
	})
}

// Register installs the collations of registry, except the ones SQLite
// already has, and the usleep and solite_stdlib_version functions.
func Register(conn *sqlite3.SQLiteConn, registry *solite.Registry) error {
	for _, name := range registry.Names() {
		if solite.Builtin(name) {
			continue
		}
		cmp, err := registry.Lookup(name)
		if err != nil {
			return err
		}
		if err := conn.RegisterCollation(name, collation(cmp)); err != nil {
			return errors.Wrapf(err, "register collation %s", name)
		}
	}
	if err := conn.RegisterFunc("usleep", usleep, false); err != nil {
		return errors.Wrap(err, "register function usleep")
	}
	if err := conn.RegisterFunc("solite_stdlib_version", solite.StdlibVersion, true); err != nil {
		return errors.Wrap(err, "register function solite_stdlib_version")
	}
	log.WithField("collations", registry.Names()).Debug("sqlite connection registered")
	return nil
}

func collation(cmp solite.Comparator) func(a, b string) int {
	return func(a, b string) int {
		return solite.CompareStrings(cmp, a, b)
	}
}

func usleep(ms int64) int64 {
	return int64(solite.USleep(int(ms)))
}
