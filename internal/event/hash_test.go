package event

import (
	"strings"
	"testing"
)

func TestFiringKey_Deterministic(t *testing.T) {
	a, err := FiringKey("g-1", "task_1", "urgent")
	if err != nil {
		t.Fatalf("FiringKey() failed: %v", err)
	}
	b, err := FiringKey("g-1", "task_1", "urgent")
	if err != nil {
		t.Fatalf("FiringKey() failed: %v", err)
	}
	if a != b {
		t.Errorf("same inputs hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected a hex SHA-256, got %q", a)
	}
}

func TestFiringKey_SensitiveToEveryInput(t *testing.T) {
	base, err := FiringKey("g-1", "task_1", "urgent")
	if err != nil {
		t.Fatalf("FiringKey() failed: %v", err)
	}
	variants := []struct {
		guard, indiv string
		value        any
	}{
		{"g-2", "task_1", "urgent"},
		{"g-1", "task_2", "urgent"},
		{"g-1", "task_1", "blocked"},
		{"g-1", "task_1", []any{"urgent"}},
	}
	for _, v := range variants {
		got, err := FiringKey(v.guard, v.indiv, v.value)
		if err != nil {
			t.Fatalf("FiringKey(%v) failed: %v", v, err)
		}
		if got == base {
			t.Errorf("FiringKey(%v) collided with the base key", v)
		}
	}
}

func TestFiringKey_UnsupportedValue(t *testing.T) {
	_, err := FiringKey("g-1", "task_1", make(chan int))
	if err == nil {
		t.Fatal("expected an error for an unserializable value")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("unexpected error: %v", err)
	}
}
