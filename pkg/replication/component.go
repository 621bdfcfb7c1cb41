package replication

import (
	"github.com/tickwire/tickwire/pkg/protocol"
)

// Schema is a network schema entry: one replicated component type.
type Schema interface {
	Codec

	// ID is the stable component id. Registration order, not the id,
	// decides the bit index on the wire.
	ID() string

	// Has reports whether e carries the component.
	Has(e Entity) bool
}

// Component is a Schema built from codecs under one change mask.
//
//	ComponentBlock := ChangeMask Field*
type Component struct {
	id       string
	presence Presence
	fields   *Composite
}

// NewComponent creates a component whose presence is reported by p.
func NewComponent(id string, p Presence, codecs ...Codec) (*Component, error) {
	if len(codecs) == 0 {
		return nil, ErrEmptyComponent
	}
	fields, err := NewComposite(id, codecs...)
	if err != nil {
		return nil, err
	}
	return &Component{
		id:       id,
		presence: p,
		fields:   fields,
	}, nil
}

// ID implements Schema.
func (c *Component) ID() string {
	return c.id
}

// Has implements Schema.
func (c *Component) Has(e Entity) bool {
	return c.presence.Has(e)
}

// Write implements Codec.
func (c *Component) Write(cur *protocol.Cursor, e Entity, force bool) bool {
	return c.fields.Write(cur, e, force)
}

// Read implements Codec. When the component's Presence is also an Adder,
// the component is attached to e before its fields are assigned.
func (c *Component) Read(cur *protocol.Cursor, e Entity) error {
	if a, ok := c.presence.(Adder); ok && !c.presence.Has(e) {
		a.Add(e)
	}
	return c.fields.Read(cur, e)
}

// Describe implements Describer.
func (c *Component) Describe() string {
	return c.fields.Describe()
}

// ComponentBuilder assembles a Component, allocating cache slots under the
// component id.
type ComponentBuilder struct {
	registry *Registry
	id       string
	presence Presence
	codecs   []Codec
}

// Field adds a scalar field.
func (b *ComponentBuilder) Field(name string, kind Kind, s Scalar) *ComponentBuilder {
	b.codecs = append(b.codecs, NewFieldCodec(name, kind, s, b.registry.cache.Slot(b.id, name)))
	return b
}

// Vector3 adds an uncompressed vector.
func (b *ComponentBuilder) Vector3(name string, x, y, z Scalar) *ComponentBuilder {
	b.codecs = append(b.codecs, NewVector3(b.registry.cache, b.id, name, x, y, z))
	return b
}

// Quaternion adds an uncompressed quaternion.
func (b *ComponentBuilder) Quaternion(name string, x, y, z, w Scalar) *ComponentBuilder {
	b.codecs = append(b.codecs, NewQuaternion(b.registry.cache, b.id, name, x, y, z, w))
	return b
}

// CompressedVector3 adds a quantized vector.
func (b *ComponentBuilder) CompressedVector3(name string, x, y, z Scalar) *ComponentBuilder {
	b.codecs = append(b.codecs, NewCompressedVector3(b.registry.cache, b.id, name, x, y, z))
	return b
}

// CompressedQuaternion adds a quantized quaternion.
func (b *ComponentBuilder) CompressedQuaternion(name string, x, y, z, w Scalar) *ComponentBuilder {
	b.codecs = append(b.codecs, NewCompressedQuaternion(b.registry.cache, b.id, name, x, y, z, w))
	return b
}

// Codec adds a custom codec.
func (b *ComponentBuilder) Codec(c Codec) *ComponentBuilder {
	b.codecs = append(b.codecs, c)
	return b
}

// Build creates the component without registering it.
func (b *ComponentBuilder) Build() (*Component, error) {
	return NewComponent(b.id, b.presence, b.codecs...)
}

// Register builds the component and appends it to the registry.
func (b *ComponentBuilder) Register() (*Component, error) {
	c, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := b.registry.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
