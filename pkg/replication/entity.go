package replication

import (
	"github.com/tickwire/tickwire/pkg/protocol"
)

// EntityBlock is one entity as read from a snapshot. Component payloads
// have already been applied to Entity.
type EntityBlock struct {
	NetworkID  uint32
	OwnerIndex uint32
	ChangeMask uint32
	Entity     Entity
}

// WriteEntity writes one entity block and reports whether it wrote anything.
//
//	Entity := NetworkId:u32 OwnerIndex:u32 ChangeMask ComponentBlock*
//
// Each schema the entity has is offered a write in registry order. If none
// wrote, the cursor is reset to before the header and the entity occupies
// zero bytes.
func WriteEntity(c *protocol.Cursor, reg *Registry, networkID, ownerIndex uint32, e Entity, force bool) bool {
	start := c.Mark()

	c.WriteU32(networkID)
	c.WriteU32(ownerIndex)
	r := reserveMask(c, reg.MaskWidth())

	var mask uint32
	for i, s := range reg.schemas {
		if !s.Has(e) {
			continue
		}
		if s.Write(c, e, force) {
			mask |= 1 << i
		}
	}

	if mask == 0 {
		c.ResetTo(start)
		return false
	}
	r.Set(mask)
	return true
}

// ReadEntity reads one entity block, resolving its network identity to a
// local entity and applying each announced component.
// Every error is a *DesyncError.
func ReadEntity(c *protocol.Cursor, reg *Registry, resolver EntityResolver) (EntityBlock, error) {
	var b EntityBlock
	fail := func(component string, err error) (EntityBlock, error) {
		stage := StageEntity
		if component != "" {
			stage = StageComponent
		}
		return b, &DesyncError{Stage: stage, NetworkID: b.NetworkID, Component: component, Err: err}
	}

	var err error
	if b.NetworkID, err = c.ReadU32(); err != nil {
		return fail("", err)
	}
	if b.OwnerIndex, err = c.ReadU32(); err != nil {
		return fail("", err)
	}
	if b.ChangeMask, err = readMask(c, reg.MaskWidth()); err != nil {
		return fail("", err)
	}
	if b.ChangeMask>>len(reg.schemas) != 0 {
		return fail("", ErrUnknownComponent)
	}

	if b.Entity, err = resolver.Resolve(b.NetworkID, b.OwnerIndex); err != nil {
		return fail("", err)
	}

	for i, s := range reg.schemas {
		if b.ChangeMask&(1<<i) == 0 {
			continue
		}
		if err := s.Read(c, b.Entity); err != nil {
			return fail(s.ID(), err)
		}
	}
	return b, nil
}
