package filter

import "testing"

func TestEmptyExpressionAcceptsAll(t *testing.T) {
	f, err := New("  ")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if f.Enabled() {
		t.Fatalf("blank filter should be disabled")
	}
	if !f.Eval("orders", nil) {
		t.Fatalf("disabled filter must accept")
	}
}

func TestRecordFieldFilter(t *testing.T) {
	f, err := New(`record.qty > 10 && key == "orders"`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !f.Eval("orders", map[string]any{"qty": 12}) {
		t.Fatalf("qty 12 should pass")
	}
	if f.Eval("orders", map[string]any{"qty": 3}) {
		t.Fatalf("qty 3 should be filtered")
	}
	if f.Eval("refunds", map[string]any{"qty": 12}) {
		t.Fatalf("wrong key should be filtered")
	}
}

func TestEvalErrorRejects(t *testing.T) {
	f, err := New(`record.missing > 1`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if f.Eval("orders", map[string]any{"qty": 1}) {
		t.Fatalf("missing field should reject")
	}
}

func TestBadExpressionFailsCompile(t *testing.T) {
	if _, err := New(`record.qty >`); err == nil {
		t.Fatalf("want compile error")
	}
}

func TestNonBooleanResultRejects(t *testing.T) {
	f, err := New(`record.qty`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if f.Eval("orders", map[string]any{"qty": 7}) {
		t.Fatalf("non-boolean result should reject")
	}
}
