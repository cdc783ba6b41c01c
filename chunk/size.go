package chunk

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is the number of rows a chunk may hold, or every remaining row.
type Size struct {
	n   int64
	all bool
}

// All selects every row from the index to the end of the table.
var All = Size{all: true}

// Rows selects at most n rows.
func Rows(n int64) Size {
	return Size{n: n}
}

func (s Size) Unbounded() bool {
	return s.all
}

// Limit is the row limit to scan with, negative when unbounded.
func (s Size) Limit() int64 {
	if s.all {
		return -1
	}
	return s.n
}

func (s Size) String() string {
	if s.all {
		return "all"
	}
	return strconv.FormatInt(s.n, 10)
}

// ParseSize reads a row count or "all".
func ParseSize(s string) (Size, error) {
	if strings.EqualFold(s, "all") {
		return All, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Size{}, fmt.Errorf("parsing chunk size %q: %w", s, err)
	}
	return Rows(n), nil
}
