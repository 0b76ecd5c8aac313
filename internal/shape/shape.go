// Package shape describes tensor extents keyed by named dimension tags.
package shape

import (
	"errors"
	"fmt"
	"strings"
)

// Tag identifies a named dimension.
type Tag byte

const (
	N Tag = 'N' // batch / count
	H Tag = 'H' // height / rows
	W Tag = 'W' // width / columns
	D Tag = 'D' // depth / channels
)

// Layout is the declared axis ordering, one tag letter per dimension.
type Layout string

// AnyLayout marks a shape whose dimensions are positional until it is
// reshaped to a concrete order during validation.
const AnyLayout Layout = ""

var (
	ErrRank        = errors.New("shape rank does not match layout")
	ErrLayout      = errors.New("shape layout mismatch")
	ErrDuplicate   = errors.New("duplicate dimension tag")
	ErrUnknownTag  = errors.New("unknown dimension tag")
	ErrMissingAxis = errors.New("dimension not present in shape")
)

// Valid reports whether every letter of the layout is a known, unique tag.
func (l Layout) Valid() error {
	seen := make(map[Tag]bool, len(l))
	for i := 0; i < len(l); i++ {
		t := Tag(l[i])
		switch t {
		case N, H, W, D:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownTag, l[i])
		}
		if seen[t] {
			return fmt.Errorf("%w: %q", ErrDuplicate, l[i])
		}
		seen[t] = true
	}
	return nil
}

// Tags returns the layout letters as tags.
func (l Layout) Tags() []Tag {
	tags := make([]Tag, len(l))
	for i := 0; i < len(l); i++ {
		tags[i] = Tag(l[i])
	}
	return tags
}

// Index returns the axis position of tag or -1.
func (l Layout) Index(t Tag) int {
	return strings.IndexByte(string(l), byte(t))
}

// Dim is one extent of a shape.
type Dim struct {
	Tag    Tag
	Extent uint32
}

// Shape is an ordered set of extents plus its declared layout.
// Dims are stored in layout order. For AnyLayout dims carry a zero Tag.
type Shape struct {
	Layout Layout
	Dims   []Dim
}

// New builds a shape from extents listed in layout order.
func New(layout Layout, extents ...uint32) (Shape, error) {
	if layout == AnyLayout {
		dims := make([]Dim, len(extents))
		for i, e := range extents {
			dims[i] = Dim{Extent: e}
		}
		return Shape{Dims: dims}, nil
	}
	if err := layout.Valid(); err != nil {
		return Shape{}, err
	}
	if len(layout) != len(extents) {
		return Shape{}, fmt.Errorf("%w: layout %s has %d axes, got %d extents", ErrRank, layout, len(layout), len(extents))
	}
	dims := make([]Dim, len(extents))
	for i, e := range extents {
		dims[i] = Dim{Tag: Tag(layout[i]), Extent: e}
	}
	return Shape{Layout: layout, Dims: dims}, nil
}

// Must is New for statically known shapes.
func Must(layout Layout, extents ...uint32) Shape {
	s, err := New(layout, extents...)
	if err != nil {
		panic(err)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s.Dims)
}

// Lookup returns the extent of tag.
func (s Shape) Lookup(t Tag) (uint32, bool) {
	for _, d := range s.Dims {
		if d.Tag == t {
			return d.Extent, true
		}
	}
	return 0, false
}

// Extent returns the extent of tag, or 0 when the tag is absent.
func (s Shape) Extent(t Tag) uint32 {
	e, _ := s.Lookup(t)
	return e
}

// Count returns the element count: product of extents, 0 if any is 0.
func (s Shape) Count() uint64 {
	if len(s.Dims) == 0 {
		return 0
	}
	var n uint64 = 1
	for _, d := range s.Dims {
		if d.Extent == 0 {
			return 0
		}
		n *= uint64(d.Extent)
	}
	return n
}

// Reshape assigns a concrete order to a wildcard shape. Shapes that already
// carry a layout must match order exactly.
func (s Shape) Reshape(order Layout) (Shape, error) {
	if s.Layout != AnyLayout {
		if s.Layout != order {
			return s, fmt.Errorf("%w: have %s, want %s", ErrLayout, s.Layout, order)
		}
		return s, nil
	}
	if len(s.Dims) != len(order) {
		return s, fmt.Errorf("%w: layout %s has %d axes, shape has %d", ErrRank, order, len(order), len(s.Dims))
	}
	out := Shape{Layout: order, Dims: make([]Dim, len(s.Dims))}
	for i, d := range s.Dims {
		out.Dims[i] = Dim{Tag: Tag(order[i]), Extent: d.Extent}
	}
	return out, nil
}

// With returns a copy with tag set to extent.
func (s Shape) With(t Tag, extent uint32) (Shape, error) {
	out := s.Clone()
	for i := range out.Dims {
		if out.Dims[i].Tag == t {
			out.Dims[i].Extent = extent
			return out, nil
		}
	}
	return s, fmt.Errorf("%w: %c", ErrMissingAxis, t)
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	dims := make([]Dim, len(s.Dims))
	copy(dims, s.Dims)
	return Shape{Layout: s.Layout, Dims: dims}
}

// Extents returns the extents in layout order.
func (s Shape) Extents() []uint32 {
	out := make([]uint32, len(s.Dims))
	for i, d := range s.Dims {
		out[i] = d.Extent
	}
	return out
}

// Equal compares layout and extents.
func (s Shape) Equal(o Shape) bool {
	if s.Layout != o.Layout || len(s.Dims) != len(o.Dims) {
		return false
	}
	for i := range s.Dims {
		if s.Dims[i] != o.Dims[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	var b strings.Builder
	if s.Layout == AnyLayout {
		b.WriteString("*")
	} else {
		b.WriteString(string(s.Layout))
	}
	b.WriteByte('[')
	for i, d := range s.Dims {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", d.Extent)
	}
	b.WriteByte(']')
	return b.String()
}
