package scenario

import "github.com/goliatone/go-repository-uow/entity"

// ModelOptions shapes the Brand/BrandProperty model.
type ModelOptions struct {
	// Nullable makes BrandProperty.brand_id nullable.
	Nullable bool
	// Cascade is set on Brand.properties.
	Cascade entity.Cascade
	// EagerProperties loads Brand.properties with every Brand.
	EagerProperties bool
	// TablePrefix is prepended to the default table names, so models with
	// different constraints can live in one database.
	TablePrefix string
}

// BrandDescriptors returns the model: a Brand with a uuid key and two
// instant columns declared as "timestamptz" and "timestamp with time zone",
// and its BrandProperty children.
func BrandDescriptors(opts ModelOptions) []entity.Descriptor {
	return []entity.Descriptor{
		{
			Name:        "Brand",
			Table:       opts.TablePrefix + entity.DefaultTableName("Brand"),
			PrimaryKey:  "id",
			KeyStrategy: entity.KeyUUID,
			Columns: []entity.Column{
				{Name: "id", Type: entity.TypeText},
				{Name: "name", Type: entity.TypeText, Nullable: true},
				{Name: "timestamptz", Type: entity.TypeInstant, Nullable: true, SQLType: "timestamptz"},
				{Name: "timestamp_with_timezone", Type: entity.TypeInstant, Nullable: true, SQLType: "timestamp with time zone"},
			},
			Relations: []entity.Relation{
				{
					Name:       "properties",
					Kind:       entity.OneToMany,
					Target:     "BrandProperty",
					ForeignKey: "brand_id",
					Nullable:   opts.Nullable,
					Cascade:    opts.Cascade,
					Eager:      opts.EagerProperties,
				},
			},
		},
		{
			Name:        "BrandProperty",
			Table:       opts.TablePrefix + entity.DefaultTableName("BrandProperty"),
			PrimaryKey:  "id",
			KeyStrategy: entity.KeyBigintSequence,
			Columns: []entity.Column{
				{Name: "id", Type: entity.TypeInteger},
				{Name: "brand_id", Type: entity.TypeText, Nullable: opts.Nullable},
				{Name: "name", Type: entity.TypeText},
				{Name: "value", Type: entity.TypeText, Nullable: true},
			},
			Relations: []entity.Relation{
				{Name: "brand", Kind: entity.ManyToOne, Target: "Brand", ForeignKey: "brand_id", Nullable: opts.Nullable},
			},
		},
	}
}

// BrandRegistry builds a registry for the model.
func BrandRegistry(opts ModelOptions) (*entity.Registry, error) {
	return entity.NewRegistry(BrandDescriptors(opts)...)
}
