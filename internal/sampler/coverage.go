package sampler

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

// Coverage is a merged interval index over sampled bytes. It only reports
// progress; overlap decisions are made against the raw visited list.
type Coverage struct {
	tree    *treemap.Map
	covered int64
	size    int64
}

func NewCoverage(size int64) *Coverage {
	return &Coverage{
		tree: treemap.NewWith(utils.Int64Comparator),
		size: size,
	}
}

func (c *Coverage) Add(r Range) {
	if r.End <= r.Start {
		return
	}
	start, end := r.Start, r.End

	if k, v := c.tree.Floor(start); k != nil {
		ks, ke := k.(int64), v.(int64)
		if ke >= start {
			if ke >= end {
				return
			}
			start = ks
			c.tree.Remove(ks)
			c.covered -= ke - ks
		}
	}

	for {
		k, v := c.tree.Ceiling(start)
		if k == nil {
			break
		}
		ks, ke := k.(int64), v.(int64)
		if ks > end {
			break
		}
		c.tree.Remove(ks)
		c.covered -= ke - ks
		if ke > end {
			end = ke
		}
	}

	c.tree.Put(start, end)
	c.covered += end - start
}

func (c *Coverage) Covered() int64 {
	return c.covered
}

// Fraction is the covered share of the file, 1 for empty files.
func (c *Coverage) Fraction() float64 {
	if c.size <= 0 {
		return 1
	}
	return float64(c.covered) / float64(c.size)
}

func (c *Coverage) Intervals() []Range {
	out := make([]Range, 0, c.tree.Size())
	it := c.tree.Iterator()
	for it.Next() {
		out = append(out, Range{Start: it.Key().(int64), End: it.Value().(int64)})
	}
	return out
}
