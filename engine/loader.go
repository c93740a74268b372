package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-repository-uow/cache"
	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/entity"
)

// CacheOption selects whether a find may use the result cache.
type CacheOption int

const (
	// CacheDefault follows Options.CacheQueries.
	CacheDefault CacheOption = iota
	CacheEnabled
	CacheDisabled
)

// FindOptions describes a single-entity lookup.
type FindOptions struct {
	// Where is an equality filter on columns; a nil value matches NULL.
	Where map[string]any
	// Relations to load with the root, added to the eager ones.
	Relations []string
	Cache     CacheOption
	// CacheTTL overrides the entry lifetime for this query when positive.
	CacheTTL time.Duration
}

// Where is shorthand for FindOptions filtering on one column.
func Where(column string, value any) FindOptions {
	return FindOptions{Where: map[string]any{column: value}}
}

// FindOne loads the first entity matching opts, ordered by primary key, or
// (nil, nil). Cached and fresh results go through the same normalization and
// identity map, so they are indistinguishable to the caller.
func (s *Session) FindOne(ctx context.Context, entityName string, opts FindOptions) (*entity.Instance, error) {
	desc, err := s.engine.descriptor(entityName)
	if err != nil {
		return nil, err
	}
	where, err := normalizeWhere(desc, opts.Where)
	if err != nil {
		return nil, err
	}
	relations, err := relationsToLoad(desc, opts.Relations)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (cache.Snapshot, error) {
		return s.fetch(ctx, desc, where, relations)
	}

	var snap cache.Snapshot
	if s.useCache(opts) {
		sig := cache.QuerySignature{Entity: desc.Name, Where: where, Relations: relations}
		key := s.engine.opts.KeySerializer.SerializeKey(sig)
		var hit bool
		snap, hit, err = cache.GetOrFetchKey(ctx, s.engine.cache, key, sig, s.engine.entryTTL(opts), fetch)
		if err != nil {
			return nil, err
		}
		s.engine.logger.Debug("cached find", "entity", desc.Name, "key", key, "hit", hit)
	} else {
		snap, err = fetch(ctx)
		if err != nil {
			return nil, err
		}
	}

	if !snap.Found {
		return nil, nil
	}
	return s.hydrate(desc, snap, relations)
}

// FindOneOrFail is FindOne with entity.ErrNotFound for a missing row.
func (s *Session) FindOneOrFail(ctx context.Context, entityName string, opts FindOptions) (*entity.Instance, error) {
	inst, err := s.FindOne(ctx, entityName, opts)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%s: %w", entityName, entity.ErrNotFound)
	}
	return inst, nil
}

// useCache reports whether a find may read through the result cache. Reads
// inside a transaction always go to the database so they see its writes.
func (s *Session) useCache(opts FindOptions) bool {
	if s.engine.cache == nil || s.tx != nil {
		return false
	}
	switch opts.Cache {
	case CacheEnabled:
		return true
	case CacheDisabled:
		return false
	}
	return s.engine.opts.CacheQueries
}

// fetch reads the root row and the rows of the requested relations and
// normalizes them through the descriptors.
func (s *Session) fetch(ctx context.Context, desc *entity.Descriptor, where map[string]any, relations []string) (cache.Snapshot, error) {
	q := s.Querier()
	rows, err := q.Select(ctx, driver.SelectQuery{
		Table:   desc.Table,
		Columns: desc.ColumnNames(),
		Where:   driver.Row(where),
		OrderBy: []string{desc.PrimaryKey},
		Limit:   1,
	})
	if err != nil {
		return cache.Snapshot{}, fmt.Errorf("find %s: %w", desc.Name, err)
	}
	if len(rows) == 0 {
		return cache.Snapshot{Found: false}, nil
	}

	root, err := entity.CoerceRow(desc, rows[0])
	if err != nil {
		return cache.Snapshot{}, fmt.Errorf("find %s: %w", desc.Name, err)
	}
	snap := cache.Snapshot{Found: true, Root: root, Related: make(map[string][]cache.Record, len(relations))}

	for _, name := range relations {
		rel, _ := desc.Relation(name)
		target, err := s.engine.descriptor(rel.Target)
		if err != nil {
			return cache.Snapshot{}, err
		}

		var filter driver.Row
		switch rel.Kind {
		case entity.OneToMany:
			filter = driver.Row{rel.ForeignKey: root[desc.PrimaryKey]}
		case entity.ManyToOne:
			fk := root[rel.ForeignKey]
			if fk == nil {
				snap.Related[name] = []cache.Record{}
				continue
			}
			filter = driver.Row{target.PrimaryKey: fk}
		}

		related, err := q.Select(ctx, driver.SelectQuery{
			Table:   target.Table,
			Columns: target.ColumnNames(),
			Where:   filter,
			OrderBy: []string{target.PrimaryKey},
		})
		if err != nil {
			return cache.Snapshot{}, fmt.Errorf("find %s.%s: %w", desc.Name, name, err)
		}
		records := make([]cache.Record, 0, len(related))
		for _, row := range related {
			rec, err := entity.CoerceRow(target, row)
			if err != nil {
				return cache.Snapshot{}, fmt.Errorf("find %s.%s: %w", desc.Name, name, err)
			}
			records = append(records, rec)
		}
		snap.Related[name] = records
	}
	return snap, nil
}

// hydrate maps a snapshot onto instances through the identity map. A
// snapshot that does not fit the current descriptors is a stale identity.
func (s *Session) hydrate(desc *entity.Descriptor, snap cache.Snapshot, relations []string) (*entity.Instance, error) {
	identity := s.uow.Identity()
	root, err := identity.GetOrCreate(desc, snap.Root)
	if err != nil {
		return nil, err
	}

	for _, name := range relations {
		rel, _ := desc.Relation(name)
		records, ok := snap.Related[name]
		if !ok {
			return nil, entity.StaleIdentity(desc.Name, root.Key(), fmt.Sprintf("result lacks relation %s", name))
		}
		// An instance already in the session keeps relation changes that
		// were not saved yet.
		if root.RelationChanged(name) {
			continue
		}
		target, err := s.engine.descriptor(rel.Target)
		if err != nil {
			return nil, err
		}

		items := make([]*entity.Instance, 0, len(records))
		for _, rec := range records {
			inst, err := identity.GetOrCreate(target, rec)
			if err != nil {
				return nil, err
			}
			items = append(items, inst)
		}

		switch rel.Kind {
		case entity.OneToMany:
			err = root.AttachMany(name, items)
		case entity.ManyToOne:
			var one *entity.Instance
			if len(items) > 0 {
				one = items[0]
			}
			err = root.AttachOne(name, one)
		}
		if err != nil {
			return nil, err
		}
	}
	return root, nil
}

// normalizeWhere coerces filter values through the column types so equal
// filters produce equal cache keys and bind the same way.
func normalizeWhere(desc *entity.Descriptor, where map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(where))
	for name, v := range where {
		col, ok := desc.Column(name)
		if !ok {
			return nil, fmt.Errorf("find %s: unknown column %q", desc.Name, name)
		}
		norm, err := entity.Coerce(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("find %s: column %s: %w", desc.Name, name, err)
		}
		out[name] = norm
	}
	return out, nil
}

// relationsToLoad merges the requested relations with the eager ones, sorted
// and deduplicated.
func relationsToLoad(desc *entity.Descriptor, requested []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, name := range append(append([]string(nil), requested...), desc.EagerRelations()...) {
		if seen[name] {
			continue
		}
		if _, ok := desc.Relation(name); !ok {
			return nil, fmt.Errorf("find %s: unknown relation %q", desc.Name, name)
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
