package multiblock

// BoundingVolume is an axis-aligned box over a set of coordinates. The zero
// value is empty.
type BoundingVolume struct {
	Min   Vec3i
	Max   Vec3i
	valid bool
}

func (b BoundingVolume) Empty() bool { return !b.valid }

func (b *BoundingVolume) Add(p Vec3i) {
	if !b.valid {
		b.Min, b.Max, b.valid = p, p, true
		return
	}
	b.Min.X = min(b.Min.X, p.X)
	b.Min.Y = min(b.Min.Y, p.Y)
	b.Min.Z = min(b.Min.Z, p.Z)
	b.Max.X = max(b.Max.X, p.X)
	b.Max.Y = max(b.Max.Y, p.Y)
	b.Max.Z = max(b.Max.Z, p.Z)
}

func (b *BoundingVolume) Reset() { *b = BoundingVolume{} }

// OnEnvelope reports whether p lies on one of the six bounding planes, i.e.
// removing a member at p may shrink the box.
func (b BoundingVolume) OnEnvelope(p Vec3i) bool {
	if !b.valid {
		return false
	}
	return p.X == b.Min.X || p.X == b.Max.X ||
		p.Y == b.Min.Y || p.Y == b.Max.Y ||
		p.Z == b.Min.Z || p.Z == b.Max.Z
}

// Size returns the extent along each axis, counting both end cells.
func (b BoundingVolume) Size() Vec3i {
	if !b.valid {
		return Vec3i{}
	}
	return Vec3i{X: b.Max.X - b.Min.X + 1, Y: b.Max.Y - b.Min.Y + 1, Z: b.Max.Z - b.Min.Z + 1}
}

func (b BoundingVolume) Volume() int {
	s := b.Size()
	return s.X * s.Y * s.Z
}

func (b BoundingVolume) Contains(p Vec3i) bool {
	return b.valid &&
		p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b BoundingVolume) Intersects(min, max Vec3i) bool {
	return b.valid &&
		b.Min.X <= max.X && b.Max.X >= min.X &&
		b.Min.Y <= max.Y && b.Max.Y >= min.Y &&
		b.Min.Z <= max.Z && b.Max.Z >= min.Z
}

// Extremes counts on how many axes p sits at the min or max plane:
// 0 for interior cells, 1 for face cells, 2 or 3 for frame edges and corners.
func (b BoundingVolume) Extremes(p Vec3i) int {
	n := 0
	if p.X == b.Min.X || p.X == b.Max.X {
		n++
	}
	if p.Y == b.Min.Y || p.Y == b.Max.Y {
		n++
	}
	if p.Z == b.Min.Z || p.Z == b.Max.Z {
		n++
	}
	return n
}

// BoundsOf computes the exact envelope of ps.
func BoundsOf(ps []Vec3i) BoundingVolume {
	var b BoundingVolume
	for _, p := range ps {
		b.Add(p)
	}
	return b
}
