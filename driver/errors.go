package driver

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-repository-uow/entity"
)

// translateError maps backend constraint failures to entity.ConstraintViolation
// and wraps everything else with the table it happened on.
func translateError(err error, entityName, table string) error {
	if err == nil {
		return nil
	}
	var ee *entity.Error
	if errors.As(err, &ee) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		cv := entity.ConstraintViolation(entityName, nil, "", sqliteErr.Error())
		cv.Err = err
		return cv
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		name := entityName
		if name == "" {
			name = pqErr.Table
		}
		cv := entity.ConstraintViolation(name, nil, pqErr.Column, pqErr.Message)
		cv.Err = err
		return cv
	}

	if table != "" {
		return fmt.Errorf("%s: %w", table, err)
	}
	return err
}
