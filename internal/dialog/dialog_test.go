package dialog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
)

func newTestRegistry(start time.Time) (*Registry, *time.Time) {
	now := start
	r := NewRegistry()
	r.clock = func() time.Time { return now }
	return r, &now
}

func TestRegistry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Mood Capture Walks Both Steps", func(t *testing.T) {
		r, _ := newTestRegistry(base)

		flow := r.Begin(1, KindMoodCapture)
		if flow.Step != StepAwaitingMood {
			t.Fatalf("expected initial step awaiting_mood, got %s", flow.Step)
		}

		if err := r.Advance(1, KindMoodCapture, StepAwaitingPreference); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, ok := r.Get(1, KindMoodCapture)
		if !ok || got.Step != StepAwaitingPreference {
			t.Fatalf("expected awaiting_preference, got %+v ok=%v", got, ok)
		}

		if err := r.Advance(1, KindMoodCapture, StepDone); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := r.Get(1, KindMoodCapture); ok {
			t.Error("completed flow must be gone")
		}
	})

	t.Run("Illegal Transition Rejected", func(t *testing.T) {
		r, _ := newTestRegistry(base)
		r.Begin(1, KindMoodCapture)

		err := r.Advance(1, KindMoodCapture, StepAwaitingCode)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}

		got, _ := r.Get(1, KindMoodCapture)
		if got.Step != StepAwaitingMood {
			t.Errorf("rejected transition must not move the flow, got %s", got.Step)
		}
	})

	t.Run("Expiry Is Silent Absence", func(t *testing.T) {
		r, now := newTestRegistry(base)
		r.Begin(1, KindMoodCapture)

		*now = base.Add(5*time.Minute + time.Second)
		if _, ok := r.Get(1, KindMoodCapture); ok {
			t.Error("expired flow must read as absent")
		}
		if err := r.Advance(1, KindMoodCapture, StepAwaitingPreference); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput on expired flow, got %v", err)
		}
	})

	t.Run("Linking Outlives Mood Timeout", func(t *testing.T) {
		r, now := newTestRegistry(base)
		r.Begin(1, KindAccountLinking)

		*now = base.Add(9 * time.Minute)
		if _, ok := r.Get(1, KindAccountLinking); !ok {
			t.Error("linking flow must survive 9 minutes")
		}

		*now = base.Add(10*time.Minute + time.Second)
		if _, ok := r.Get(1, KindAccountLinking); ok {
			t.Error("linking flow must expire after 10 minutes")
		}
	})

	t.Run("Touch Refreshes Deadline", func(t *testing.T) {
		r, now := newTestRegistry(base)
		r.Begin(1, KindAccountLinking)

		*now = base.Add(9 * time.Minute)
		r.Touch(1, KindAccountLinking)

		*now = base.Add(15 * time.Minute)
		if _, ok := r.Get(1, KindAccountLinking); !ok {
			t.Error("touched flow must live a full window from the touch")
		}
	})

	t.Run("Re-Entry Discards Prior Flow", func(t *testing.T) {
		r, _ := newTestRegistry(base)
		r.Begin(1, KindMoodCapture)
		if err := r.Advance(1, KindMoodCapture, StepAwaitingPreference); err != nil {
			t.Fatal(err)
		}

		flow := r.Begin(1, KindMoodCapture)
		if flow.Step != StepAwaitingMood {
			t.Errorf("restart must begin at the initial step, got %s", flow.Step)
		}
	})

	t.Run("Kinds Are Independent", func(t *testing.T) {
		r, _ := newTestRegistry(base)
		r.Begin(1, KindMoodCapture)
		r.Begin(1, KindAccountLinking)

		if !r.End(1, KindMoodCapture) {
			t.Error("expected active mood flow ended")
		}
		if _, ok := r.Get(1, KindAccountLinking); !ok {
			t.Error("ending one kind must not touch the other")
		}
	})

	t.Run("Users Are Independent", func(t *testing.T) {
		r, _ := newTestRegistry(base)
		r.Begin(1, KindMoodCapture)

		if _, ok := r.Get(2, KindMoodCapture); ok {
			t.Error("another user's flow leaked")
		}
	})

	t.Run("End Reports Activity", func(t *testing.T) {
		r, now := newTestRegistry(base)
		if r.End(1, KindMoodCapture) {
			t.Error("ending an absent flow must report false")
		}

		r.Begin(1, KindMoodCapture)
		*now = base.Add(time.Hour)
		if r.End(1, KindMoodCapture) {
			t.Error("ending an expired flow must report false")
		}
	})
}

func TestPlausibleAuthCode(t *testing.T) {
	long := strings.Repeat("A", 60)
	cases := map[string]bool{
		long:              true,
		"  " + long + " ": true,
		"AQBx":            false,
		"":                false,
		strings.Repeat("A", 30) + " " + strings.Repeat("B", 30): false,
	}

	for code, want := range cases {
		if got := PlausibleAuthCode(code); got != want {
			t.Errorf("PlausibleAuthCode(%q) = %v, want %v", shared.Truncate(code, 20), got, want)
		}
	}
}
