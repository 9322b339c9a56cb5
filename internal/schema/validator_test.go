package schema

import (
	"testing"

	"github.com/rzbill/flume/internal/encoding"
)

func ordersValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator("orders", []encoding.Field{
		{Name: "id", Type: "string"},
		{Name: "qty", Type: "int64"},
		{Name: "rush", Type: "bool"},
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestValidateAccepts(t *testing.T) {
	v := ordersValidator(t)
	obj, err := v.Validate([]byte(`{"id":"o-1","qty":3,"rush":false}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if obj["id"] != "o-1" {
		t.Fatalf("decoded object lost id: %v", obj)
	}
}

func TestValidateRejectsMissingField(t *testing.T) {
	v := ordersValidator(t)
	if _, err := v.Validate([]byte(`{"id":"o-1","qty":3}`)); err == nil {
		t.Fatalf("want missing field error")
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	v := ordersValidator(t)
	if _, err := v.Validate([]byte(`{"id":"o-1","qty":3,"rush":false,"color":"red"}`)); err == nil {
		t.Fatalf("want unknown key error")
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	v := ordersValidator(t)
	if _, err := v.Validate([]byte(`{"id":"o-1","qty":"three","rush":false}`)); err == nil {
		t.Fatalf("want type error")
	}
}

func TestValidateRejectsNonObject(t *testing.T) {
	v := ordersValidator(t)
	if _, err := v.Validate([]byte(`[1,2,3]`)); err == nil {
		t.Fatalf("want object error")
	}
	if _, err := v.Validate([]byte(`{`)); err == nil {
		t.Fatalf("want JSON error")
	}
}
