package scenario_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-uow/engine"
	"github.com/goliatone/go-repository-uow/entity"
	"github.com/goliatone/go-repository-uow/internal/scenario"
	"github.com/goliatone/go-repository-uow/pkg/testsupport"
	"github.com/goliatone/go-repository-uow/uow"
)

func TestTimestamps(t *testing.T) {
	for _, cached := range []bool{true, false} {
		f := testsupport.NewFixture(t, testsupport.BrandRegistry(t, testsupport.BrandOptions{Nullable: true}), engine.Options{CacheQueries: cached})

		report, err := scenario.Timestamps(context.Background(), f.Engine, scenario.DefaultInstant)
		require.NoError(t, err)
		assert.True(t, report.Passed(), "%+v", report.Checks)
		assert.NotEmpty(t, report.Checks)

		if cached {
			assert.Equal(t, 2, f.Driver.Count("select", "brands"), "second read served from cache")
		} else {
			assert.Equal(t, 3, f.Driver.Count("select", "brands"))
		}
	}
}

func TestTimestamps_ZonedSubMicrosecondInput(t *testing.T) {
	f := testsupport.NewFixture(t, testsupport.BrandRegistry(t, testsupport.BrandOptions{Nullable: true}), engine.Options{CacheQueries: true})
	at := time.Date(2024, 11, 23, 5, 30, 0, 123_456_789, time.FixedZone("EST", -5*60*60))

	report, err := scenario.Timestamps(context.Background(), f.Engine, at)
	require.NoError(t, err)
	assert.True(t, report.Passed(), "%+v", report.Checks)
	assert.Equal(t, "2024-11-23T10:30:00.123456Z", report.Checks[0].Observed)
}

func sqliteOpener(t *testing.T) scenario.Opener {
	return func(ctx context.Context, reg *entity.Registry, mode uow.ReconcileMode) (*engine.Engine, error) {
		return engine.New(reg, testsupport.OpenSQLite(t, reg), nil, engine.Options{Reconcile: mode}), nil
	}
}

func TestCascade(t *testing.T) {
	report, err := scenario.Cascade(context.Background(), sqliteOpener(t))
	require.NoError(t, err)
	assert.True(t, report.Passed(), "%+v", report.Checks)
	assert.Len(t, report.Checks, 9)

	byName := make(map[string]scenario.Check)
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	assert.Equal(t, "null", byName["nullify, nullable fk, cleared collection"].Observed)
	assert.Equal(t, string(entity.CodeConstraintViolation), byName["nullify, non-nullable fk, cleared collection"].Observed)
	assert.NotEqual(t, "null", byName["suppress, nullable fk, cleared collection"].Observed)
	assert.NotEqual(t, "null", byName["nullify, nullable fk, unchanged save"].Observed)
	assert.Len(t, report.Notes, 1, "the rejected save is explained")
}

func TestCascade_SingleMode(t *testing.T) {
	report, err := scenario.Cascade(context.Background(), sqliteOpener(t), uow.ReconcileSuppress)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Len(t, report.Checks, 4)
	for _, c := range report.Checks {
		assert.Contains(t, c.Name, "suppress")
	}
}
