package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/billingcore/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestAutoMigrateCreatesEveryTable(t *testing.T) {
	db := dbtest.Open(t)

	require.NoError(t, AutoMigrate(db))
	// A second run must be a no-op.
	require.NoError(t, AutoMigrate(db))

	for _, model := range Models() {
		tabler, ok := model.(schema.Tabler)
		require.True(t, ok)
		assert.True(t, db.Migrator().HasTable(tabler.TableName()), tabler.TableName())
	}
	assert.True(t, db.Migrator().HasIndex("invoices", "ux_invoice_recurring_date"))
}

func TestEmbeddedMigrationsCoverEveryTable(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_billing_core.up.sql")
	require.NoError(t, err)
	down, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_billing_core.down.sql")
	require.NoError(t, err)

	for _, model := range Models() {
		name := model.(schema.Tabler).TableName()
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+name+" (")
		assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+name+";")
	}
	assert.True(t, strings.Contains(string(up), "WHERE invoice_type = 'RECURRING'"))
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	require.Error(t, RunMigrations(nil))
	require.Error(t, AutoMigrate(nil))
}
