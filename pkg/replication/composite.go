package replication

import (
	"strings"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// MaxItems is the number of sub-items the widest change mask can address.
const MaxItems = 32

// maskWidth returns the mask width in bytes for n sub-items.
func maskWidth(n int) (int, error) {
	switch {
	case n <= 8:
		return 1, nil
	case n <= 16:
		return 2, nil
	case n <= MaxItems:
		return 4, nil
	default:
		return 0, ErrTooManyItems
	}
}

func reserveMask(c *protocol.Cursor, width int) protocol.Reserved {
	switch width {
	case 2:
		return c.SpaceU16()
	case 4:
		return c.SpaceU32()
	default:
		return c.SpaceU8()
	}
}

func readMask(c *protocol.Cursor, width int) (uint32, error) {
	switch width {
	case 2:
		v, err := c.ReadU16()
		return uint32(v), err
	case 4:
		return c.ReadU32()
	default:
		v, err := c.ReadU8()
		return uint32(v), err
	}
}

// Composite writes its children under one change mask.
//
// Write reserves the mask, calls each child in order and sets bit i for
// every child that wrote. A zero mask resets the cursor to before the
// reservation, so an unchanged composite writes nothing.
type Composite struct {
	name     string
	children []Codec
	width    int
}

// NewComposite creates a composite over children. The mask is one byte for
// up to 8 children, two for up to 16 and four for up to 32.
func NewComposite(name string, children ...Codec) (*Composite, error) {
	width, err := maskWidth(len(children))
	if err != nil {
		return nil, err
	}
	return &Composite{
		name:     name,
		children: children,
		width:    width,
	}, nil
}

// Len returns the number of children.
func (m *Composite) Len() int {
	return len(m.children)
}

// MaskWidth returns the mask width in bytes.
func (m *Composite) MaskWidth() int {
	return m.width
}

// Write implements Codec.
func (m *Composite) Write(c *protocol.Cursor, e Entity, force bool) bool {
	r := reserveMask(c, m.width)

	var mask uint32
	for i, child := range m.children {
		if child.Write(c, e, force) {
			mask |= 1 << i
		}
	}

	if mask == 0 {
		c.ResetTo(r.Mark())
		return false
	}
	r.Set(mask)
	return true
}

// Read implements Codec.
func (m *Composite) Read(c *protocol.Cursor, e Entity) error {
	mask, err := readMask(c, m.width)
	if err != nil {
		return err
	}
	if mask>>len(m.children) != 0 {
		return ErrInvalidMask
	}
	for i, child := range m.children {
		if mask&(1<<i) == 0 {
			continue
		}
		if err := child.Read(c, e); err != nil {
			return err
		}
	}
	return nil
}

// Describe returns "name{child,child,...}".
func (m *Composite) Describe() string {
	var sb strings.Builder
	sb.WriteString(m.name)
	sb.WriteByte('{')
	for i, child := range m.children {
		if i > 0 {
			sb.WriteByte(',')
		}
		if d, ok := child.(Describer); ok {
			sb.WriteString(d.Describe())
		} else {
			sb.WriteByte('?')
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
