package clock

import (
	"testing"
	"time"
)

func TestFake_SetAndAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f := NewFake(start)
	if !f.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", f.Now(), start)
	}

	f.Advance(90 * time.Minute)
	want := start.Add(90 * time.Minute)
	if !f.Now().Equal(want) {
		t.Errorf("after Advance: Now() = %v, want %v", f.Now(), want)
	}

	later := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.Set(later)
	if !f.Now().Equal(later) {
		t.Errorf("after Set: Now() = %v, want %v", f.Now(), later)
	}
}

func TestFake_StoresUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	f := NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, loc))
	if f.Now().Location() != time.UTC {
		t.Errorf("location = %v, want UTC", f.Now().Location())
	}
	if f.Now().Hour() != 8 {
		t.Errorf("hour = %d, want 8", f.Now().Hour())
	}
}

func TestNormalize(t *testing.T) {
	in := time.Date(2026, 3, 1, 9, 30, 15, 987654321, time.FixedZone("CET", 3600))
	got := Normalize(in)
	want := time.Date(2026, 3, 1, 8, 30, 15, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}

func TestReal_IsUTC(t *testing.T) {
	var c Clock = Real{}
	if c.Now().Location() != time.UTC {
		t.Errorf("Real.Now() location = %v, want UTC", c.Now().Location())
	}
}
