// Package repository holds the shared Postgres and Redis connectors used by
// internal/orderstore and internal/registry for their write-ahead-logged
// backing stores.
package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DB wraps a gorm handle opened against Postgres.
type DB struct {
	Client *gorm.DB
}

// NewDB opens a Postgres connection pool via gorm. Callers run AutoMigrate
// for the tables they own.
func NewDB(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &DB{Client: db}, nil
}
