package metadata

import "testing"

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatal("expected empty non-nil map")
	}
}

func TestWithLeavesReceiverUntouched(t *testing.T) {
	base := New(KeyCorrelationID, "corr-1")
	next := base.With(KeyPriority, "HIGH")

	if _, ok := base[KeyPriority]; ok {
		t.Fatal("With must not mutate the receiver")
	}
	if next.Get(KeyPriority) != "HIGH" || next.Get(KeyCorrelationID) != "corr-1" {
		t.Fatalf("unexpected result %#v", next)
	}
}

func TestWithAllOverrides(t *testing.T) {
	base := Metadata{"a": "1", "b": "2"}
	merged := base.WithAll(Metadata{"b": "3", "c": "4"})

	if merged["a"] != "1" || merged["b"] != "3" || merged["c"] != "4" {
		t.Fatalf("unexpected merge %#v", merged)
	}
	if base["b"] != "2" {
		t.Fatal("WithAll must not mutate the receiver")
	}
}

func TestGetOnNil(t *testing.T) {
	var m Metadata
	if m.Get("missing") != "" {
		t.Fatal("expected empty string")
	}
}

func TestNewIgnoresDanglingKey(t *testing.T) {
	md := New("a", "1", "dangling")
	if len(md) != 1 || md["a"] != "1" {
		t.Fatalf("unexpected metadata %#v", md)
	}
}

func TestToWatermillCopies(t *testing.T) {
	md := Metadata{KeyEventType: "card.issued"}
	wm := ToWatermill(md)
	if wm.Get(KeyEventType) != "card.issued" {
		t.Fatalf("unexpected watermill metadata %#v", wm)
	}

	wm.Set(KeyEventType, "card.frozen")
	if md[KeyEventType] != "card.issued" {
		t.Fatal("watermill headers must not alias the envelope metadata")
	}
	if wm := ToWatermill(nil); wm == nil || len(wm) != 0 {
		t.Fatal("expected empty non-nil metadata")
	}
}
