package cate

import (
	"fmt"
	"sort"
	"strings"
)

// Plan is the output layout computed from a segment list: the bounding box
// of every segment's output extent, and the element type of the first
// segment.
type Plan struct {
	// Output coordinates of the array's first row and column
	StartRow    int
	StartColumn int
	Rows        int
	Cols        int
	Dtype       Dtype
	Segments    []SegmentDescriptor
}

// A Projection maps one segment onto the output array. Row and Col are the
// destination origin in array coordinates.
type Projection struct {
	Segment SegmentDescriptor
	Row     int
	Col     int
}

// NewPlan computes the output layout for segments. Segments are kept in the
// order given, and the output dtype is the first segment's.
func NewPlan(segments []SegmentDescriptor) (*Plan, error) {
	if len(segments) == 0 {
		return nil, newSimpleError(ErrNoData, "no data available for request")
	}

	dt, err := ParseDtype(segments[0].Dtype)
	if err != nil {
		return nil, asType(ErrUnsupportedDtype, "segment "+segments[0].DataKey, err)
	}

	first := segments[0].Output
	startRow, stopRow := first.StartRow, first.StopRow
	startCol, stopCol := first.StartColumn, first.StopColumn
	for _, s := range segments[1:] {
		startRow = min(startRow, s.Output.StartRow)
		stopRow = max(stopRow, s.Output.StopRow)
		startCol = min(startCol, s.Output.StartColumn)
		stopCol = max(stopCol, s.Output.StopColumn)
	}

	p := &Plan{
		StartRow:    startRow,
		StartColumn: startCol,
		Rows:        stopRow - startRow + 1,
		Cols:        stopCol - startCol + 1,
		Dtype:       dt,
		Segments:    segments,
	}
	if p.Rows <= 0 || p.Cols <= 0 {
		return nil, newSimpleErrorf(ErrInconsistentPlan, "segments describe an empty output shape (%d,%d)", p.Rows, p.Cols)
	}
	if _, ok := byteLen(p.Rows, p.Cols, dt.ByteSize); !ok {
		return nil, newSimpleErrorf(ErrInconsistentPlan, "output shape (%d,%d) of %s is too large", p.Rows, p.Cols, dt)
	}
	return p, nil
}

// Shape is the (rows, cols) of the output array.
func (p *Plan) Shape() [2]int {
	return [2]int{p.Rows, p.Cols}
}

// Allocate returns the zero-filled output array.
func (p *Plan) Allocate() (*Array, error) {
	return NewArray(p.Rows, p.Cols, p.Dtype)
}

// Projections lists where each segment lands in the output array, in
// segment order.
func (p *Plan) Projections() []Projection {
	ps := make([]Projection, len(p.Segments))
	for i, s := range p.Segments {
		ps[i] = Projection{
			Segment: s,
			Row:     s.Output.StartRow - p.StartRow,
			Col:     s.Output.StartColumn - p.StartColumn,
		}
	}
	return ps
}

// Report lists the ways a plan departs from the layout the server is
// expected to produce: one dtype, and output extents that tile the bounding
// box exactly once.
type Report struct {
	// Data keys of segments whose dtype differs from the plan's
	MixedDtypes []string
	// Cells written by more than one segment
	OverlappingCells int64
	// Cells no segment writes; these stay zero
	UncoveredCells int64
}

// OK is true when the report has no findings.
func (r Report) OK() bool {
	return len(r.MixedDtypes) == 0 && r.OverlappingCells == 0 && r.UncoveredCells == 0
}

func (r Report) String() string {
	if r.OK() {
		return "consistent"
	}
	var parts []string
	if len(r.MixedDtypes) > 0 {
		parts = append(parts, fmt.Sprintf("%d segments with mismatched dtype (%s)",
			len(r.MixedDtypes), strings.Join(r.MixedDtypes, ", ")))
	}
	if r.OverlappingCells > 0 {
		parts = append(parts, fmt.Sprintf("%d overlapping cells", r.OverlappingCells))
	}
	if r.UncoveredCells > 0 {
		parts = append(parts, fmt.Sprintf("%d uncovered cells", r.UncoveredCells))
	}
	return strings.Join(parts, ", ")
}

// Check inspects the plan for mixed dtypes, overlapping output extents and
// cells not covered by any segment.
func (p *Plan) Check() Report {
	r := Report{}
	for _, s := range p.Segments {
		dt, err := ParseDtype(s.Dtype)
		if err != nil || dt != p.Dtype {
			r.MixedDtypes = append(r.MixedDtypes, s.DataKey)
		}
	}
	r.OverlappingCells, r.UncoveredCells = p.coverage()
	return r
}

// coverage counts overlapping and uncovered cells on a grid compressed to
// the segment boundaries, so cost depends on segment count, not array size.
func (p *Plan) coverage() (overlapping, uncovered int64) {
	rows := []int{p.StartRow, p.StartRow + p.Rows}
	cols := []int{p.StartColumn, p.StartColumn + p.Cols}
	for _, s := range p.Segments {
		rows = append(rows, s.Output.StartRow, s.Output.StopRow+1)
		cols = append(cols, s.Output.StartColumn, s.Output.StopColumn+1)
	}
	rows, cols = uniqueSorted(rows), uniqueSorted(cols)

	for i := 0; i < len(rows)-1; i++ {
		for j := 0; j < len(cols)-1; j++ {
			n := 0
			for _, s := range p.Segments {
				if s.Output.StartRow <= rows[i] && rows[i] <= s.Output.StopRow &&
					s.Output.StartColumn <= cols[j] && cols[j] <= s.Output.StopColumn {
					n++
				}
			}
			area := int64(rows[i+1]-rows[i]) * int64(cols[j+1]-cols[j])
			switch {
			case n == 0:
				uncovered += area
			case n > 1:
				overlapping += area
			}
		}
	}
	return overlapping, uncovered
}

func uniqueSorted(xs []int) []int {
	sort.Ints(xs)
	out := xs[:0]
	for _, x := range xs {
		if len(out) == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
