package goslab

import "os"

var osPageSize = os.Getpagesize()

// roundup returns the smallest multiple of m (a power of two) that is >= n.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }
