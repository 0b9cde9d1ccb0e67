package status

import (
	"sync"
	"testing"
	"time"
)

func TestNewState(t *testing.T) {
	s := New(70)

	snap := s.Snapshot()
	if snap.Volume != 70 {
		t.Errorf("Volume = %d, want 70", snap.Volume)
	}
	if !snap.Loading {
		t.Error("New state should report loading")
	}
	if snap.Paused {
		t.Error("New state should not be paused")
	}
	if snap.Title != "" || snap.TracksPlayed != 0 {
		t.Errorf("New state should be empty, got %+v", snap)
	}
}

func TestFieldUpdates(t *testing.T) {
	s := New(50)

	s.SetTitle("Artist Song")
	s.SetPaused(true)
	s.SetLoading(false)
	s.SetVolume(65)
	s.SetProgress(30*time.Second, 2*time.Minute)

	snap := s.Snapshot()
	if snap.Title != "Artist Song" {
		t.Errorf("Title = %q", snap.Title)
	}
	if !snap.Paused {
		t.Error("Paused not recorded")
	}
	if snap.Loading {
		t.Error("Loading not cleared")
	}
	if snap.Volume != 65 {
		t.Errorf("Volume = %d, want 65", snap.Volume)
	}
	if snap.Elapsed != 30*time.Second || snap.Duration != 2*time.Minute {
		t.Errorf("Progress = %v/%v", snap.Elapsed, snap.Duration)
	}
}

func TestIncTracksPlayed(t *testing.T) {
	s := New(50)

	if got := s.IncTracksPlayed(); got != 1 {
		t.Errorf("IncTracksPlayed() = %d, want 1", got)
	}
	if got := s.IncTracksPlayed(); got != 2 {
		t.Errorf("IncTracksPlayed() = %d, want 2", got)
	}
	if got := s.TracksPlayed(); got != 2 {
		t.Errorf("TracksPlayed() = %d, want 2", got)
	}
}

func TestTransientMessage(t *testing.T) {
	s := New(50)

	if msg := s.Snapshot().Message; msg != "" {
		t.Errorf("Initial message = %q, want empty", msg)
	}

	s.SetMessage("skipping unreachable track")
	if msg := s.Snapshot().Message; msg != "skipping unreachable track" {
		t.Errorf("Message = %q", msg)
	}
}

func TestTransientMessageExpires(t *testing.T) {
	s := New(50)

	s.SetMessage("transient")
	s.msgMu.Lock()
	s.messageAt = time.Now().Add(-2 * MessageTTL)
	s.msgMu.Unlock()

	if msg := s.Snapshot().Message; msg != "" {
		t.Errorf("Expired message = %q, want empty", msg)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New(50)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = s.Snapshot()
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.SetTitle("t")
			s.SetPaused(i%2 == 0)
			s.SetVolume(i % 100)
			s.SetProgress(time.Duration(i), time.Minute)
			s.IncTracksPlayed()
		}
		close(stop)
	}()

	wg.Wait()

	if s.TracksPlayed() != 1000 {
		t.Errorf("TracksPlayed = %d, want 1000", s.TracksPlayed())
	}
}
