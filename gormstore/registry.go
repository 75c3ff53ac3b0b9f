package gormstore

import (
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector
// for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	providers  = make(map[string]DialectorOpener)
)

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// Register adds a dialector opener under a database type name.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[name] = opener
}

// Open connects to the named database type and migrates the authz tables.
func Open(dbType, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	db, err := OpenDB(dbType, dsn, cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenDB connects without running migrations, for deployments that manage
// the schema themselves.
func OpenDB(dbType, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	registryMu.RLock()
	opener, ok := providers[dbType]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gormstore: unknown database type %q", dbType)
	}
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	return gorm.Open(opener(dsn), cfg)
}

// AutoMigrate creates the authz tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&gormGrant{},
		&gormInvitation{},
		&gormInvitationToken{},
		&gormTombstone{},
		&gormAuditEvent{},
	)
}
