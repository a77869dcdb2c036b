package main

import (
	"io/fs"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestMigrationsLoad(t *testing.T) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		t.Fatalf("iofs.New() error = %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}
	if first != 1 {
		t.Errorf("first version = %d, want 1", first)
	}
}

func TestAuditLogIDAcceptsAnyString(t *testing.T) {
	up, err := fs.ReadFile(migrations, "migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	table := regexp.MustCompile(`(?s)CREATE TABLE audit_logs \((.*?)\n\);`).FindSubmatch(up)
	if table == nil {
		t.Fatal("audit_logs table not found")
	}
	if !regexp.MustCompile(`(?m)^\s*id TEXT PRIMARY KEY`).Match(table[1]) {
		t.Errorf("audit_logs.id is not TEXT:\n%s", table[1])
	}
}
