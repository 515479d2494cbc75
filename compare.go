package solite

import (
	"bytes"
	"slices"
)

type Comparator func(a, b []byte) int

// Ordering is the result of a three-way comparison.
type Ordering int8

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func orderingOf(x int) Ordering {
	switch {
	case x < 0:
		return Less
	case x > 0:
		return Greater
	}
	return Equal
}

// Int converts o to the signed-int convention used by host comparators.
func (o Ordering) Int() int { return int(o) }

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	}
	return "equal"
}

func BytesComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

// digitRun returns the length of the run of ASCII digits starting at buf[i].
func digitRun(buf []byte, i int) int {
	n := 0
	for i+n < len(buf) && isDigit(buf[i+n]) {
		n++
	}
	return n
}

// NatSort compares a and b byte by byte, except that runs of ASCII digits
// are compared by numeric value. Leading zeros in a run are ignored.
func NatSort(a, b []byte) Ordering {
	nA, nB := len(a), len(b)
	i, j := 0, 0
	for i < nA && j < nB {
		x := int(a[i]) - int(b[j])
		if !isDigit(a[i]) {
			if x != 0 {
				return orderingOf(x)
			}
			i++
			j++
			continue
		}
		if !isDigit(b[j]) {
			return orderingOf(x)
		}
		for i < nA && a[i] == '0' {
			i++
		}
		for j < nB && b[j] == '0' {
			j++
		}
		// a longer run without leading zeros is the larger number
		k := digitRun(a, i)
		if rb := digitRun(b, j); k > rb {
			return Greater
		} else if k < rb {
			return Less
		}
		if c := bytes.Compare(a[i:i+k], b[j:j+k]); c != 0 {
			return orderingOf(c)
		}
		i += k
		j += k
	}
	return orderingOf((nA - i) - (nB - j))
}

// NatSortComparator adapts NatSort to the Comparator signature.
func NatSortComparator(a, b []byte) int {
	return NatSort(a, b).Int()
}

// SortBytes sorts keys in natural order. Equal keys keep their relative order.
func SortBytes(keys [][]byte) {
	slices.SortStableFunc(keys, NatSortComparator)
}

func SortStrings(ss []string) {
	slices.SortStableFunc(ss, func(a, b string) int {
		return NatSortComparator(unsafeBytes(a), unsafeBytes(b))
	})
}
