package platformmap

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"robolink/command"
)

type memRepo struct {
	mu    sync.Mutex
	raw   []byte
	saves int
}

func (r *memRepo) LoadRaw(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raw == nil {
		return nil, ErrNotFound
	}
	return r.raw, nil
}

func (r *memRepo) SaveRaw(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append([]byte(nil), raw...)
	r.saves++
	return nil
}

// recordingSender records every command and fails the ones listed in fail.
type recordingSender struct {
	sent []command.Command
	fail map[string]error
}

func (s *recordingSender) Send(ctx context.Context, c command.Command) error {
	s.sent = append(s.sent, c)
	return s.fail[c.Endpoint().Name]
}

func sendable() *Document {
	d := New(epoch)
	d.MapName = "North"
	d.PlatformNumber = 2
	d.Map.SiteName = "Barn"
	d.Map.FarmID = 11
	d.AddLocation()
	d.AddLocation()
	d.Map.Locations[1].X = 1.5
	return d
}

func TestTransferSendsMetadataThenLocations(t *testing.T) {
	s := &recordingSender{}
	if err := Transfer(context.Background(), s, sendable()); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(s.sent) != 2 {
		t.Fatalf("sent %d commands", len(s.sent))
	}
	meta, ok := s.sent[0].(command.MapMetadata)
	if !ok || meta.MapName != "North" || meta.FarmID != 11 || meta.PlatformNumber != 2 || meta.SiteName != "Barn" {
		t.Errorf("first command = %#v", s.sent[0])
	}
	locs, ok := s.sent[1].(command.MapLocations)
	if !ok || locs.P != "0,0,0.001,0.000,0.000|0,0,1.500,0.000,0.000" {
		t.Errorf("second command = %#v", s.sent[1])
	}
}

func TestTransferStopsAfterMetadataFailure(t *testing.T) {
	s := &recordingSender{fail: map[string]error{"platform-map-1": errors.New("gatt")}}
	if err := Transfer(context.Background(), s, sendable()); err == nil {
		t.Fatal("Transfer succeeded")
	}
	if len(s.sent) != 1 {
		t.Errorf("sent %d commands after metadata failure", len(s.sent))
	}
}

func TestTransferLocationsFailureNoRetry(t *testing.T) {
	s := &recordingSender{fail: map[string]error{"platform-map-2": errors.New("gatt")}}
	err := Transfer(context.Background(), s, sendable())
	if err == nil {
		t.Fatal("Transfer reported success")
	}
	if len(s.sent) != 2 {
		t.Errorf("sent %d commands, want exactly 2", len(s.sent))
	}
}

func TestTransferValidatesFirst(t *testing.T) {
	s := &recordingSender{}
	d := sendable()
	d.Map.SiteName = ""
	if err := Transfer(context.Background(), s, d); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("err = %v", err)
	}
	if len(s.sent) != 0 {
		t.Error("invalid map was sent")
	}
}

func TestEditorRejectedLoadKeepsState(t *testing.T) {
	repo := &memRepo{}
	ed := NewEditor(repo, nil)
	ed.New()
	if _, err := ed.Edit(func(d *Document) error { d.MapName = "Kept"; return nil }); err != nil {
		t.Fatal(err)
	}

	if _, err := ed.Replace([]byte(`{"MapName":"Broken"}`)); err == nil {
		t.Fatal("broken document accepted")
	}
	repo.raw = []byte(`{"PlatformNumber":"two"}`)
	if err := ed.Restore(context.Background()); err == nil {
		t.Fatal("broken stored document accepted")
	}
	if got := ed.Current().MapName; got != "Kept" {
		t.Errorf("MapName = %q after rejected loads", got)
	}

	_, err := ed.Edit(func(d *Document) error {
		d.MapName = "Half"
		return d.RemoveLocation(3)
	})
	if !errors.Is(err, ErrOutOfRange) || ed.Current().MapName != "Kept" {
		t.Errorf("failed edit leaked: err=%v name=%q", err, ed.Current().MapName)
	}
}

func TestEditorRestoreMissingIsEmpty(t *testing.T) {
	ed := NewEditor(&memRepo{}, nil)
	if err := ed.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ed.Current() != nil {
		t.Error("document appeared from an empty repository")
	}
	if _, err := ed.Edit(func(*Document) error { return nil }); !errors.Is(err, ErrNoDocument) {
		t.Errorf("edit without document err = %v", err)
	}
}

func TestEditorSaveAndRestore(t *testing.T) {
	repo := &memRepo{}
	ed := NewEditor(repo, nil)
	ed.New()
	ed.Edit(func(d *Document) error {
		d.AddLocation()
		d.Map.Locations[0].X = 0
		return nil
	})
	if err := ed.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var stored Document
	if err := json.Unmarshal(repo.raw, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Map.Locations[0].X != ZeroSentinel {
		t.Errorf("persisted X = %v", stored.Map.Locations[0].X)
	}

	other := NewEditor(repo, nil)
	if err := other.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if other.Current().Fingerprint() != ed.Current().Fingerprint() {
		t.Error("restored document differs")
	}
}

func TestEditorSend(t *testing.T) {
	repo := &memRepo{}
	ed := NewEditor(repo, nil)
	if _, err := ed.Replace(mustJSON(t, sendable())); err != nil {
		t.Fatal(err)
	}

	failing := &recordingSender{fail: map[string]error{"platform-map-2": errors.New("gatt")}}
	if err := ed.Send(context.Background(), failing); err == nil {
		t.Fatal("Send succeeded")
	}
	if ed.LastSent() != "" || repo.saves != 0 {
		t.Error("failed transfer recorded as sent")
	}

	if err := ed.Send(context.Background(), &recordingSender{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ed.LastSent() != ed.Current().Fingerprint() {
		t.Error("last sent fingerprint not recorded")
	}
	if repo.saves != 1 {
		t.Errorf("saves = %d, want 1", repo.saves)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
