package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vortexlab/vortex/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "eventlog.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_HandleAndForVM(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	events := []model.VmEvent{
		{Tag: model.EventCreated, VmID: "vortex-aaaaaaaa", At: now},
		{Tag: model.EventStarted, VmID: "vortex-aaaaaaaa", At: now.Add(time.Second)},
		{Tag: model.EventCreated, VmID: "vortex-bbbbbbbb", At: now},
	}
	for _, e := range events {
		if err := s.Handle(e); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}

	got, err := s.ForVM(context.Background(), "vortex-aaaaaaaa")
	if err != nil {
		t.Fatalf("ForVM returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Tag != model.EventCreated || got[1].Tag != model.EventStarted {
		t.Errorf("expected Created then Started in order, got %v, %v", got[0].Tag, got[1].Tag)
	}
}

func TestStore_Recent(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Handle(model.VmEvent{Tag: model.EventCreated, VmID: "vortex-aaaaaaaa", At: time.Now().UTC()}); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}

	recent, err := s.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 events (limit applied), got %d", len(recent))
	}
}

func TestStore_Name(t *testing.T) {
	s := newTestStore(t)
	if s.Name() != "eventlog" {
		t.Errorf("Name() = %q, want %q", s.Name(), "eventlog")
	}
}
