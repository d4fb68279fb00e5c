package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
)

func TestStore(t *testing.T) {
	t.Run("Lazy Creation", func(t *testing.T) {
		s := NewStore()
		if got := s.Mood(42); got != MoodUnset {
			t.Errorf("expected unset mood for new user, got %q", got)
		}
	})

	t.Run("History Bound", func(t *testing.T) {
		s := NewStore()
		for i := 0; i < 20; i++ {
			s.AppendExchange(1, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		}

		hist := s.History(1)
		if len(hist) != HistoryLimit {
			t.Fatalf("expected history bounded to %d, got %d", HistoryLimit, len(hist))
		}

		// Oldest evicted first: the remaining window starts at exchange 14.
		if hist[0].Content != "q14" || hist[0].Role != RoleUser {
			t.Errorf("expected oldest surviving entry q14, got %+v", hist[0])
		}
		if hist[len(hist)-1].Content != "a19" {
			t.Errorf("expected newest entry a19, got %+v", hist[len(hist)-1])
		}
	})

	t.Run("Concurrent History Append", func(t *testing.T) {
		s := NewStore()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				s.AppendExchange(7, "u", "a")
				s.SetMood(7, MoodHappy)
			}(i)
		}
		wg.Wait()

		if got := len(s.History(7)); got != HistoryLimit {
			t.Errorf("expected bounded history under concurrency, got %d", got)
		}
		if s.Mood(7) != MoodHappy {
			t.Errorf("expected last-write-wins mood, got %q", s.Mood(7))
		}
	})

	t.Run("Clear History Keeps Context", func(t *testing.T) {
		s := NewStore()
		s.SetMood(3, MoodCalm)
		s.AppendExchange(3, "hello", "hi")

		if !s.ClearHistory(3) {
			t.Error("expected ClearHistory to report cleared entries")
		}
		if s.ClearHistory(3) {
			t.Error("expected second ClearHistory to be a no-op")
		}
		if s.Mood(3) != MoodCalm {
			t.Error("clearing history must not touch mood")
		}
	})

	t.Run("Link Atomicity", func(t *testing.T) {
		s := NewStore()

		err := s.SetLink(5, AccountLink{AccessToken: []byte("only-access")})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected half a pair to be rejected, got %v", err)
		}
		if _, ok := s.Link(5); ok {
			t.Error("rejected link must not be stored")
		}

		link := AccountLink{
			AccessToken:  []byte("ct-access"),
			RefreshToken: []byte("ct-refresh"),
			ExpiresAt:    time.Now().Add(time.Hour),
		}
		if err := s.SetLink(5, link); err != nil {
			t.Fatalf("expected valid pair to store, got %v", err)
		}

		got, ok := s.Link(5)
		if !ok || string(got.AccessToken) != "ct-access" || string(got.RefreshToken) != "ct-refresh" {
			t.Errorf("unexpected stored link %+v", got)
		}

		s.ClearLink(5)
		if _, ok := s.Link(5); ok {
			t.Error("expected link cleared")
		}
	})

	t.Run("Genre Merge Cap", func(t *testing.T) {
		s := NewStore()
		s.SetGenres(9, []string{"rock"})

		merged := s.MergeInferredGenres(9, []string{"jazz", "pop", "metal"})
		if len(merged) != 3 {
			t.Fatalf("expected 2 inferred additions at most, got %v", merged)
		}
		if merged[0] != "rock" {
			t.Errorf("explicit selection must survive merge, got %v", merged)
		}

		// Duplicates and further additions are dropped.
		merged = s.MergeInferredGenres(9, []string{"rock", "jazz"})
		if len(merged) != 3 {
			t.Errorf("expected duplicate-free merge, got %v", merged)
		}
	})

	t.Run("Explicit Selection Replaces", func(t *testing.T) {
		s := NewStore()
		s.SetGenres(2, []string{"pop", "pop", "rock"})
		if got := s.Genres(2); len(got) != 2 {
			t.Errorf("expected deduplicated explicit set, got %v", got)
		}

		s.SetGenres(2, []string{"classical"})
		if got := s.Genres(2); len(got) != 1 || got[0] != "classical" {
			t.Errorf("expected replacement, got %v", got)
		}
	})
}

func TestParseMood(t *testing.T) {
	cases := map[string]struct {
		mood Mood
		ok   bool
	}{
		"Happy":     {MoodHappy, true},
		"  sad.":    {MoodSad, true},
		"chill":     {MoodRelaxed, true},
		"stressed":  {MoodAnxious, true},
		"neutral":   {MoodNeutral, true},
		"melodic":   {MoodNeutral, false},
		"":          {MoodNeutral, false},
		"NOSTALGIC": {MoodNostalgic, true},
	}

	for raw, want := range cases {
		got, ok := ParseMood(raw)
		if got != want.mood || ok != want.ok {
			t.Errorf("ParseMood(%q) = %q,%v want %q,%v", raw, got, ok, want.mood, want.ok)
		}
	}
}
