package cate

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// GetData downloads the channels and time interval selected by q and
// assembles them into one array. The array spans the bounding box of the
// segments the server returns, which is usually but not necessarily the
// requested range. A query no segment covers fails with ErrNoData without
// downloading anything. Any fetch or decode failure aborts the whole call.
func (c *Client) GetData(ctx context.Context, q Query) (*Array, error) {
	segs, err := c.DataSegments(ctx, q)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(segs)
	if err != nil {
		return nil, err
	}
	return c.Assemble(ctx, plan)
}

// Assemble fetches every segment of plan and writes it into a freshly
// allocated output array.
func (c *Client) Assemble(ctx context.Context, plan *Plan) (*Array, error) {
	report := plan.Check()
	if !report.OK() {
		if c.strictPlan {
			return nil, newSimpleErrorf(ErrInconsistentPlan, "segment plan: %s", report)
		}
		c.logger.Warn("inconsistent segment plan",
			zap.Strings("mixedDtypes", report.MixedDtypes),
			zap.Int64("overlappingCells", report.OverlappingCells),
			zap.Int64("uncoveredCells", report.UncoveredCells),
		)
	}

	out, err := plan.Allocate()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	projections := plan.Projections()
	// later segments win on overlap, which only holds when writes happen in
	// order
	if c.concurrency > 1 && report.OverlappingCells == 0 && len(projections) > 1 {
		err = c.assembleConcurrent(ctx, plan, out, projections)
	} else {
		err = c.assembleSequential(ctx, plan, out, projections)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("assembled",
		zap.Int("segments", len(projections)),
		zap.String("array", out.Info()),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (c *Client) assembleSequential(ctx context.Context, plan *Plan, out *Array, ps []Projection) error {
	for _, p := range ps {
		if err := c.writeSegment(ctx, plan, out, p); err != nil {
			return err
		}
	}
	return nil
}

// assembleConcurrent fetches up to c.concurrency segments at once. Segments
// write disjoint regions of out, so writes need no locking.
func (c *Client) assembleConcurrent(ctx context.Context, plan *Plan, out *Array, ps []Projection) error {
	sem := semaphore.NewWeighted(int64(c.concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range ps {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		p := p
		g.Go(func() error {
			defer sem.Release(1)
			return c.writeSegment(gctx, plan, out, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Acquire only fails once gctx is done; without a group error that means
	// the caller's context ended
	return ctx.Err()
}

func (c *Client) writeSegment(ctx context.Context, plan *Plan, out *Array, p Projection) error {
	seg, err := c.loadSegment(ctx, plan, p.Segment)
	if err != nil {
		return err
	}
	return out.SetRegion(p.Row, p.Col, seg)
}

// loadSegment fetches a payload and decodes it with the segment's declared
// dtype and input shape.
func (c *Client) loadSegment(ctx context.Context, plan *Plan, s SegmentDescriptor) (*Array, error) {
	rc, err := c.segments.Get(ctx, s.DataKey)
	if err != nil {
		return nil, asType(ErrSegmentFetch, "fetching segment "+s.DataKey, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, newDerivedError(ErrSegmentFetch, "reading segment "+s.DataKey, err)
	}

	dt, err := ParseDtype(s.Dtype)
	if err != nil {
		return nil, newDerivedError(ErrSegmentDecode, "segment "+s.DataKey, err)
	}
	if dt != plan.Dtype {
		return nil, newSimpleErrorf(ErrSegmentDecode, "segment %s has dtype %s, output array is %s",
			s.DataKey, dt, plan.Dtype)
	}
	if s.Input.Rows() != s.Output.Rows() || s.Input.Cols() != s.Output.Cols() {
		return nil, newSimpleErrorf(ErrSegmentDecode, "segment %s input shape (%d,%d) does not match output extent %s",
			s.DataKey, s.Input.Rows(), s.Input.Cols(), s.Output)
	}

	arr, err := DecodeArray(data, s.Input.Rows(), s.Input.Cols(), dt)
	if err != nil {
		return nil, newDerivedError(ErrSegmentDecode, "segment "+s.DataKey, err)
	}
	c.logger.Debug("segment",
		zap.String("dataKey", s.DataKey),
		zap.Int("bytes", len(data)),
		zap.Stringer("output", s.Output),
	)
	return arr, nil
}
