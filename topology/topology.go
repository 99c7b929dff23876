// Package topology builds victim-selection probability tables for the
// work-stealing scheduler. A table holds, for each worker, a cumulative
// distribution over potential victims scaled to 2^31; drawing 31 random bits
// and binary-searching a row picks a victim with the configured bias.
//
// Tables come from three sources: a uniform default, an explicit weight
// matrix file, or a compact machine descriptor such as "2,1.0x4,5.0" — two
// sockets of four cores, where stealing within a socket is five times more
// likely than across sockets.
package topology

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Scale is the fixed-point denominator of every cumulative row: row entry j
// holds floor(Scale * P(victim < j)), and column n is implicitly Scale.
const Scale = int64(1) << 31

// ErrBadDescriptor reports an unparseable machine descriptor.
var ErrBadDescriptor = errors.New("topology: invalid descriptor")

// ErrBadMatrix reports an invalid weight matrix.
var ErrBadMatrix = errors.New("topology: invalid weight matrix")

// Table is an n-by-n cumulative victim distribution, read-only once built.
type Table struct {
	n    int
	rows []int64 // n*n, row-major
}

// Workers returns the worker count the table was built for.
func (t *Table) Workers() int { return t.n }

// At returns the cumulative value for row i, column j. Column n is
// implicitly Scale.
func (t *Table) At(i, j int) int64 {
	if j == t.n {
		return Scale
	}
	return t.rows[i*t.n+j]
}

// Row returns worker i's cumulative row (aliasing the table's storage).
func (t *Table) Row(i int) []int64 {
	return t.rows[i*t.n : (i+1)*t.n]
}

// Victim returns the j satisfying At(i,j) <= x < At(i,j+1), the victim
// worker i picks for the draw x in [0, Scale). Returns -1 when i has no
// possible victim (a single-worker table).
func (t *Table) Victim(i int, x int64) int {
	n := t.n
	if n == 1 {
		return -1
	}
	row := t.Row(i)
	if row[n-1] <= x {
		return n - 1
	}
	a, b := 0, n-1
	for b-a > 1 {
		c := (a + b) / 2
		if row[c] <= x {
			a = c
		} else {
			b = c
		}
	}
	return a
}

// Uniform builds the default table: every worker steals from every other
// with equal probability.
func Uniform(nWorkers int) (*Table, error) {
	weights := make([]float64, nWorkers*nWorkers)
	for i := range weights {
		weights[i] = 1.0
	}
	return FromMatrix(weights, nWorkers, nWorkers)
}

// FromMatrix converts an nCPUs-by-nCPUs relative weight matrix into a
// cumulative table for nWorkers workers. When the counts differ the pattern
// is tiled modulo nCPUs; the diagonal is zeroed and each row normalized
// before conversion to fixed point.
func FromMatrix(weights []float64, nCPUs, nWorkers int) (*Table, error) {
	if nCPUs <= 0 || nWorkers <= 0 {
		return nil, fmt.Errorf("%w: %d cpus, %d workers", ErrBadMatrix, nCPUs, nWorkers)
	}
	if len(weights) != nCPUs*nCPUs {
		return nil, fmt.Errorf("%w: %d weights for %d cpus", ErrBadMatrix, len(weights), nCPUs)
	}

	n := nWorkers
	q := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			q[i*n+j] = weights[(i%nCPUs)*nCPUs+j%nCPUs]
		}
	}
	for i := 0; i < n; i++ {
		q[i*n+i] = 0.0
	}
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			if q[i*n+j] < 0 {
				return nil, fmt.Errorf("%w: negative weight at row %d col %d", ErrBadMatrix, i, j)
			}
			sum += q[i*n+j]
		}
		if sum == 0 {
			if n > 1 {
				return nil, fmt.Errorf("%w: row %d has no victim with nonzero weight", ErrBadMatrix, i)
			}
			continue
		}
		for j := 0; j < n; j++ {
			q[i*n+j] /= sum
		}
	}

	rows := make([]int64, n*n)
	for i := 0; i < n; i++ {
		x := 0.0
		for j := 0; j < n; j++ {
			rows[i*n+j] = int64(x * float64(Scale))
			x += q[i*n+j]
		}
		// Trailing zero-weight columns (such as the last worker's own slot)
		// start at exactly Scale, so rounding in the running sum cannot give
		// them a nonzero width.
		for j := n - 1; j > 0 && q[i*n+j] == 0; j-- {
			rows[i*n+j] = Scale
		}
	}
	return &Table{n: n, rows: rows}, nil
}

// level is one tier of the machine hierarchy: how many partitions it splits
// into, and the relative weight of stealing across (but not within) them.
type level struct {
	partitions int
	weight     float64
}

// FromHierarchy builds a table from a descriptor "n1,p1 x n2,p2 x ... x nk,pk"
// describing a tree with nl partitions at level l and relative steal weight
// pl toward victims in a different partition at that level.
func FromHierarchy(desc string, nWorkers int) (*Table, error) {
	levels, err := parseHierarchy(desc)
	if err != nil {
		return nil, err
	}
	nCPUs := 1
	for _, l := range levels {
		nCPUs *= l.partitions
	}
	weights := make([]float64, nCPUs*nCPUs)
	fillDomain(weights, 0, nCPUs, levels, nCPUs)
	return FromMatrix(weights, nCPUs, nWorkers)
}

// fillDomain fills weights[a:b, a:b]: diagonal blocks recurse one level
// deeper, off-diagonal blocks get the level's cross-partition weight.
func fillDomain(weights []float64, a, b int, levels []level, n int) {
	if len(levels) == 0 {
		// A single core; the self weight stays zero.
		return
	}
	np := levels[0].partitions
	per := (b - a) / np
	for i := 0; i < np; i++ {
		s := a + i*per
		for j := 0; j < np; j++ {
			t := a + j*per
			if i == j {
				fillDomain(weights, s, s+per, levels[1:], n)
				continue
			}
			for ii := s; ii < s+per; ii++ {
				for jj := t; jj < t+per; jj++ {
					weights[ii*n+jj] = levels[0].weight
				}
			}
		}
	}
}

func parseHierarchy(desc string) ([]level, error) {
	parts := strings.Split(desc, "x")
	levels := make([]level, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		np, weight, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("%w: %q (want \"n,p x n,p x ...\")", ErrBadDescriptor, desc)
		}
		n, err := strconv.Atoi(strings.TrimSpace(np))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: partition count %q", ErrBadDescriptor, np)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil || p < 0 {
			return nil, fmt.Errorf("%w: weight %q", ErrBadDescriptor, weight)
		}
		levels = append(levels, level{partitions: n, weight: p})
	}
	return levels, nil
}

// FromFile reads a weight matrix file: an integer N followed by N*N
// whitespace-separated non-negative floats, row i column j being the
// relative probability that worker i picks victim j.
func FromFile(path string, nWorkers int) (*Table, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	defer fp.Close()
	return FromReader(fp, nWorkers)
}

// FromReader is FromFile for an arbitrary reader.
func FromReader(r io.Reader, nWorkers int) (*Table, error) {
	var n int
	if _, err := fmt.Fscan(r, &n); err != nil {
		return nil, fmt.Errorf("%w: reading size: %v", ErrBadMatrix, err)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrBadMatrix, n)
	}
	weights := make([]float64, n*n)
	for i := range weights {
		if _, err := fmt.Fscan(r, &weights[i]); err != nil {
			return nil, fmt.Errorf("%w: reading weight %d of %d: %v", ErrBadMatrix, i+1, n*n, err)
		}
	}
	return FromMatrix(weights, n, nWorkers)
}
