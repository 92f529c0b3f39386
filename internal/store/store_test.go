package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("empty string should map to NULL")
	}
	if v := nullable("x"); v == nil || *v != "x" {
		t.Errorf("nullable(%q) = %v, want pointer to it", "x", v)
	}
}

func TestAssignString(t *testing.T) {
	var dst string

	assignString(&dst, nil)
	if dst != "" {
		t.Errorf("nil source should leave dst empty, got %q", dst)
	}

	src := "value"
	assignString(&dst, &src)
	if dst != "value" {
		t.Errorf("dst = %q, want value", dst)
	}
}

func TestIsUndefinedColumn(t *testing.T) {
	undefined := &pgconn.PgError{Code: "42703"}

	if !isUndefinedColumn(undefined) {
		t.Error("42703 should read as undefined column")
	}
	if !isUndefinedColumn(fmt.Errorf("query: %w", undefined)) {
		t.Error("wrapped 42703 should read as undefined column")
	}
	if isUndefinedColumn(&pgconn.PgError{Code: "42P01"}) {
		t.Error("undefined table is not undefined column")
	}
	if isUndefinedColumn(errors.New("plain")) {
		t.Error("plain error is not undefined column")
	}
}
