package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("nope"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", meta.HTTPStatus)
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	base := errors.New("db down")
	wrapped := fmt.Errorf("commit: %w", Wrap(CodeDependency, base, "store unavailable"))

	typed := As(wrapped)
	if typed == nil {
		t.Fatalf("expected typed error")
	}
	if typed.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", typed.Code())
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected cause to unwrap")
	}
	if !IsCode(wrapped, CodeDependency) {
		t.Fatalf("expected IsCode match")
	}
}

func TestInvalidCarriesFieldReason(t *testing.T) {
	err := Invalid("name", "is required").WithField("permissions", "must not be empty")
	if err.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", err.Code())
	}
	fields := err.Fields()
	if fields["name"] != "is required" || fields["permissions"] != "must not be empty" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestNilErrorAccessors(t *testing.T) {
	var e *Error
	if e.Code() != CodeInternal || e.Message() != "" || e.Fields() != nil {
		t.Fatalf("nil error accessors should be zero-valued")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should be nil")
	}
}
