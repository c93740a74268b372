package uow

import (
	"fmt"

	"github.com/goliatone/go-repository-uow/entity"
)

type identityKey struct {
	entity string
	key    any
}

// IdentityMap holds at most one Instance per (entity type, primary key).
// It belongs to a single unit of work and is not safe for concurrent use.
type IdentityMap struct {
	items map[identityKey]*entity.Instance
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{items: make(map[identityKey]*entity.Instance)}
}

// GetOrCreate returns the mapped instance for the row's key, merging in
// columns it does not have yet, or hydrates a new Managed instance. The row is
// normalized against desc first; unknown columns or values that do not fit
// their column are a StaleIdentity error.
func (m *IdentityMap) GetOrCreate(desc *entity.Descriptor, row map[string]any) (*entity.Instance, error) {
	norm, err := entity.CoerceRow(desc, row)
	if err != nil {
		return nil, &entity.Error{
			Code:    entity.CodeStaleIdentity,
			Message: "row does not match descriptor",
			Entity:  desc.Name,
			Key:     row[desc.PrimaryKey],
			Err:     err,
		}
	}

	key := norm[desc.PrimaryKey]
	if key == nil {
		return nil, entity.StaleIdentity(desc.Name, nil, "row has no primary key")
	}

	id := identityKey{entity: desc.Name, key: key}
	if inst, ok := m.items[id]; ok {
		if inst.Descriptor() != desc {
			return nil, entity.StaleIdentity(desc.Name, key, "mapped instance uses a different descriptor")
		}
		inst.Merge(norm)
		return inst, nil
	}

	inst, err := entity.Hydrate(desc, norm)
	if err != nil {
		return nil, entity.StaleIdentity(desc.Name, key, err.Error())
	}
	m.items[id] = inst
	return inst, nil
}

// Adopt maps an instance created outside the map, such as one just inserted.
// Adopting a second instance for a key that is already mapped fails.
func (m *IdentityMap) Adopt(inst *entity.Instance) error {
	if !inst.HasKey() {
		return fmt.Errorf("adopt %s: instance has no key", inst.EntityName())
	}
	id := identityKey{entity: inst.EntityName(), key: inst.Key()}
	if existing, ok := m.items[id]; ok && existing != inst {
		return entity.StaleIdentity(inst.EntityName(), inst.Key(), "another instance is already mapped to this key")
	}
	m.items[id] = inst
	return nil
}

// Get looks up the instance mapped for key. key is normalized to the type of
// the primary key column, so int and int64 keys find the same row.
func (m *IdentityMap) Get(desc *entity.Descriptor, key any) (*entity.Instance, bool) {
	norm, err := entity.Coerce(desc.PrimaryColumn().Type, key)
	if err != nil || norm == nil {
		return nil, false
	}
	inst, ok := m.items[identityKey{entity: desc.Name, key: norm}]
	return inst, ok
}

// Remove forgets inst if it is the mapped instance for its key.
func (m *IdentityMap) Remove(inst *entity.Instance) {
	if !inst.HasKey() {
		return
	}
	id := identityKey{entity: inst.EntityName(), key: inst.Key()}
	if m.items[id] == inst {
		delete(m.items, id)
	}
}

func (m *IdentityMap) Len() int { return len(m.items) }
