// Package utils provides small helpers shared by the services and the HTTP
// layer. They carry no domain logic.
package utils

import "strconv"

const (
	// DefaultPageSize applies when a caller asks for a non-positive size.
	DefaultPageSize = 20
	// MaxPageSize caps any requested page size.
	MaxPageSize = 100
)

// Page is a normalized 1-based page request.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to >= 1 and size to 1..MaxPageSize, substituting
// DefaultPageSize for non-positive sizes.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages returns how many pages total rows span; at least 1.
func (p Page) TotalPages(total int64) int {
	if total <= 0 {
		return 1
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
