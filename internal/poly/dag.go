package poly

// PowersDAG computes x^1..x^max from a set of source powers using one
// multiplication per missing power, choosing for each power the split
// a + b = p with the lowest resulting depth.
type PowersDAG struct {
	max     int
	depth   []int
	parents [][2]int
	source  []bool
}

// NewPowersDAG builds the DAG for the given sources. Source powers above max
// are ignored and 1 is always treated as a source.
func NewPowersDAG(sources []int, max int) *PowersDAG {
	if max < 1 {
		max = 1
	}
	d := &PowersDAG{
		max:     max,
		depth:   make([]int, max+1),
		parents: make([][2]int, max+1),
		source:  make([]bool, max+1),
	}
	d.source[1] = true
	for _, s := range sources {
		if s >= 1 && s <= max {
			d.source[s] = true
		}
	}

	for p := 2; p <= max; p++ {
		if d.source[p] {
			continue
		}
		best := -1
		for a := 1; a <= p/2; a++ {
			b := p - a
			depth := maxInt(d.depth[a], d.depth[b]) + 1
			if best == -1 || depth < best {
				best = depth
				d.parents[p] = [2]int{a, b}
			}
		}
		d.depth[p] = best
	}
	return d
}

// Max is the highest power computed
func (d *PowersDAG) Max() int {
	return d.max
}

// Depth is the multiplicative depth of the deepest power
func (d *PowersDAG) Depth() int {
	var depth int
	for _, v := range d.depth[1:] {
		depth = maxInt(depth, v)
	}
	return depth
}

// IsSource reports whether p is sent by the receiver
func (d *PowersDAG) IsSource(p int) bool {
	return d.source[p]
}

// Parents returns the two powers multiplied to obtain p
func (d *PowersDAG) Parents(p int) (int, int) {
	return d.parents[p][0], d.parents[p][1]
}

// Sources lists the source powers in increasing order
func (d *PowersDAG) Sources() []int {
	var out []int
	for p := 1; p <= d.max; p++ {
		if d.source[p] {
			out = append(out, p)
		}
	}
	return out
}

// Apply walks the powers in increasing order, calling mul for every power
// that is not a source. Both parents of p are always visited before p.
func (d *PowersDAG) Apply(mul func(p, a, b int) error) error {
	for p := 2; p <= d.max; p++ {
		if d.source[p] {
			continue
		}
		if err := mul(p, d.parents[p][0], d.parents[p][1]); err != nil {
			return err
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
