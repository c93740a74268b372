// Package entity holds the static metadata of persisted types (Descriptor,
// Registry), the in-memory row representation (Instance with tri-state
// relations), the Instant time type and the engine's error taxonomy.
//
// Descriptors replace struct tags or annotations: they are declared as plain
// values and registered once at startup.
//
//	reg := entity.MustRegistry(
//		entity.Descriptor{
//			Name:        "Brand",
//			PrimaryKey:  "id",
//			KeyStrategy: entity.KeyBigintSequence,
//			Columns:     []entity.Column{{Name: "id", Type: entity.TypeInteger}},
//			Relations: []entity.Relation{{
//				Name: "properties", Kind: entity.OneToMany, Target: "BrandProperty",
//				ForeignKey: "brand_id", Nullable: true,
//			}},
//		},
//		...
//	)
//
// Every value stored in an Instance is normalized by Coerce to string, int64,
// bool, Instant or nil, so values read from the driver, from the result cache
// and from callers compare equal with ==.
package entity
