package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestVectorColumnDimensions(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT atttypmod").
		WithArgs("posts", "embedding").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(1024))

	dims, err := VectorColumnDimensions(context.Background(), db, "posts", "embedding")
	if err != nil {
		t.Fatalf("VectorColumnDimensions: %v", err)
	}
	if dims != 1024 {
		t.Fatalf("expected 1024, got %d", dims)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVectorColumnDimensionsUnconstrained(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT atttypmod").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(-1))

	_, err = VectorColumnDimensions(context.Background(), db, "posts", "embedding")
	if !errors.Is(err, ErrNotVectorColumn) {
		t.Fatalf("expected ErrNotVectorColumn, got %v", err)
	}
}

func TestVectorColumnDimensionsMissing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT atttypmod").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}))

	_, err = VectorColumnDimensions(context.Background(), db, "posts", "embedding")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
