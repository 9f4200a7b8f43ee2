package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/tenantbill/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect returns the gorm dialector for the configured database.
// Repositories rely on ON CONFLICT and partial unique indexes, so only postgres and sqlite are accepted.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		name := strings.TrimSpace(cfg.DBName)
		if name == "" {
			name = "tenantbill.db"
		}
		return sqlite.Open(name), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// ForUpdate returns the row-locking suffix for the connected dialect.
// SQLite serializes writers on its own and has no FOR UPDATE.
func ForUpdate(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return ""
	}
	return " FOR UPDATE"
}

// ForUpdateSkipLocked is ForUpdate for batch claims that should not wait on busy rows.
func ForUpdateSkipLocked(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}
