package repo

import (
	"errors"
	"fmt"

	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/gorm"
)

// ErrSchemaNotReady means a required table is missing; run `worker migrate` first.
var ErrSchemaNotReady = errors.New("schema not ready")

// VerifySchema checks that every table exists. Binaries refuse to start otherwise.
func VerifySchema(db *gorm.DB) error {
	m := db.Migrator()
	for _, t := range model.All() {
		if !m.HasTable(t) {
			stmt := &gorm.Statement{DB: db}
			_ = stmt.Parse(t)
			return fmt.Errorf("%w: missing table %s", ErrSchemaNotReady, stmt.Table)
		}
	}
	return nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}
