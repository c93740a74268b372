package scenario

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/goliatone/go-repository-uow/driver"
	"github.com/goliatone/go-repository-uow/engine"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/uow"
)

// Opener returns an engine over reg using the given reconcile mode. The
// cascade scenario creates the tables it needs itself.
type Opener func(ctx context.Context, reg *entity.Registry, mode uow.ReconcileMode) (*engine.Engine, error)

type cascadeCase struct {
	mode     uow.ReconcileMode
	nullable bool
	clear    bool
}

func (c cascadeCase) name() string {
	fk := "nullable"
	if !c.nullable {
		fk = "non-nullable"
	}
	action := "unchanged save"
	if c.clear {
		action = "cleared collection"
	}
	return fmt.Sprintf("%s, %s fk, %s", c.mode, fk, action)
}

// expected is the stored brand_id after the save, or the failure code.
func (c cascadeCase) expected(brandID string) any {
	if !c.clear || c.mode == uow.ReconcileSuppress {
		return brandID
	}
	if !c.nullable {
		return entity.CodeConstraintViolation
	}
	return nil
}

// Cascade loads a brand with its non-cascaded properties, saves it, and
// reports the stored brand_id of the property for every combination of the
// given reconcile modes, foreign key nullability and an unchanged or
// cleared collection. With no modes both are run.
func Cascade(ctx context.Context, open Opener, modes ...uow.ReconcileMode) (Report, error) {
	r := Report{Scenario: "cascade"}
	if len(modes) == 0 {
		modes = []uow.ReconcileMode{uow.ReconcileSuppress, uow.ReconcileNullify}
	}

	for _, mode := range modes {
		for _, nullable := range []bool{true, false} {
			for _, clear := range []bool{false, true} {
				c := cascadeCase{mode: mode, nullable: nullable, clear: clear}
				if err := runCascadeCase(ctx, open, c, &r); err != nil {
					return r, fmt.Errorf("%s: %w", c.name(), err)
				}
			}
		}
	}
	return r, nil
}

func runCascadeCase(ctx context.Context, open Opener, c cascadeCase, r *Report) error {
	prefix := "repro_nullable_"
	if !c.nullable {
		prefix = "repro_required_"
	}
	reg, err := BrandRegistry(ModelOptions{Nullable: c.nullable, TablePrefix: prefix})
	if err != nil {
		return err
	}
	e, err := open(ctx, reg, c.mode)
	if err != nil {
		return err
	}
	if err := e.Driver().CreateTables(ctx, reg); err != nil {
		return err
	}

	brandDesc, _ := reg.Get("Brand")
	propDesc, _ := reg.Get("BrandProperty")

	brandID := uuid.NewString()
	var propertyID any
	err = e.Transaction(ctx, func(ctx context.Context, s *engine.Session) error {
		brand, err := reg.New("Brand", map[string]any{"id": brandID, "name": "cascade"})
		if err != nil {
			return err
		}
		if _, err := s.Insert(ctx, brand); err != nil {
			return err
		}
		prop, err := reg.New("BrandProperty", map[string]any{"brand_id": brandID, "name": "color", "value": "red"})
		if err != nil {
			return err
		}
		propertyID, err = s.Insert(ctx, prop)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	s := e.Session()
	brand, err := s.FindOneOrFail(ctx, "Brand", engine.FindOptions{
		Where:     map[string]any{"id": brandID},
		Relations: []string{"properties"},
		Cache:     engine.CacheDisabled,
	})
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if c.clear {
		if err := brand.SetMany("properties", nil); err != nil {
			return err
		}
	}

	var observed any
	if _, err := s.Save(ctx, brand); err != nil {
		cv, ok := entity.AsError(err, entity.CodeConstraintViolation)
		if !ok {
			return fmt.Errorf("save: %w", err)
		}
		observed = cv.Code
		r.note("%s: %s", c.name(), cv.Error())
	}

	rows, err := e.Driver().Select(ctx, driver.SelectQuery{
		Table: propDesc.Table,
		Where: driver.Row{propDesc.PrimaryKey: propertyID},
	})
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	if len(rows) != 1 {
		return fmt.Errorf("inspect: property %v missing", propertyID)
	}
	stored := rows[0]["brand_id"]
	if observed == nil {
		observed = stored
	} else {
		r.expect(c.name()+" brand_id untouched after failure", brandID, stored)
	}
	r.expect(c.name(), c.expected(brandID), observed)

	return cleanup(ctx, e.Driver(), propDesc.Table, brandDesc.Table)
}

// cleanup empties the scenario tables, children first.
func cleanup(ctx context.Context, q driver.Querier, tables ...string) error {
	for _, table := range tables {
		if _, err := q.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return nil
}
