package solite

import (
	"github.com/pkg/errors"
	"sort"
	"strings"
	"sync"
)

const (
	CollationBinary  = "binary"
	CollationNatSort = "natsort"
)

var (
	ErrCollationExists = errors.New("collation already registered")
	ErrNoSuchCollation = errors.New("no such collation")
)

// Registry holds named comparators. Names are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	collations map[string]Comparator
}

var DefaultRegistry = NewRegistry()

// NewRegistry returns a registry holding the binary and natsort collations.
func NewRegistry() *Registry {
	r := &Registry{collations: make(map[string]Comparator)}
	_ = r.Register(CollationBinary, BytesComparator)
	_ = r.Register(CollationNatSort, NatSortComparator)
	return r
}

func (r *Registry) Register(name string, cmp Comparator) error {
	if name == "" {
		return errors.New("empty collation name")
	}
	if cmp == nil {
		return errors.Errorf("collation %q: nil comparator", name)
	}
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collations[key]; ok {
		return errors.Wrap(ErrCollationExists, name)
	}
	r.collations[key] = cmp
	return nil
}

func (r *Registry) Lookup(name string) (Comparator, error) {
	r.mu.RLock()
	cmp, ok := r.collations[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrNoSuchCollation, name)
	}
	return cmp, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collations))
	for name := range r.collations {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// sqliteBuiltins are the collations SQLite defines on every connection.
var sqliteBuiltins = []string{CollationBinary, "nocase", "rtrim"}

// Builtin reports whether name is a collation every SQL host already provides.
func Builtin(name string) bool {
	for _, b := range sqliteBuiltins {
		if strings.EqualFold(name, b) {
			return true
		}
	}
	return false
}
