package platformmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by a Repository holding no document.
	ErrNotFound = errors.New("platform map not stored")
	// ErrNoDocument is returned when an edit needs a document and none is
	// loaded.
	ErrNoDocument = errors.New("no platform map loaded")
)

// Repository persists the raw document under StorageKey.
type Repository interface {
	LoadRaw(ctx context.Context) ([]byte, error)
	SaveRaw(ctx context.Context, raw []byte) error
}

// Editor holds the working copy of the map. Every change is applied to a
// copy and committed only if it succeeds, so a rejected load or edit keeps
// the previous document.
type Editor struct {
	repo    Repository
	emitter EventEmitter
	now     func() time.Time

	mu       sync.Mutex
	doc      *Document
	lastSent string
}

// NewEditor creates an editor persisting through repo.
func NewEditor(repo Repository, emitter EventEmitter) *Editor {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Editor{repo: repo, emitter: emitter, now: time.Now}
}

// Restore loads the stored document. A missing document is not an error; a
// rejected one is logged and the current state kept.
func (e *Editor) Restore(ctx context.Context) error {
	raw, err := e.repo.LoadRaw(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load platform map: %w", err)
	}
	doc, err := Load(raw, e.now())
	if err != nil {
		log.Printf("platformmap: ignoring stored map: %v", err)
		return err
	}
	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()
	return nil
}

// Current returns a copy of the working document, or nil.
func (e *Editor) Current() *Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return nil
	}
	return e.doc.Clone()
}

// LastSent returns the fingerprint of the last map transferred.
func (e *Editor) LastSent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSent
}

// New replaces the working document with an empty map.
func (e *Editor) New() *Document {
	d := New(e.now())
	out := d.Clone()
	e.commit(d)
	return out
}

// Replace loads raw with stored-document defaulting.
func (e *Editor) Replace(raw []byte) (*Document, error) {
	d, err := Load(raw, e.now())
	if err != nil {
		return nil, err
	}
	out := d.Clone()
	e.commit(d)
	return out, nil
}

// Import loads an uploaded document with the stricter upload checks.
func (e *Editor) Import(raw []byte) (*Document, error) {
	d, err := Import(raw, e.now())
	if err != nil {
		return nil, err
	}
	out := d.Clone()
	e.commit(d)
	return out, nil
}

// Edit applies fn to a copy of the working document and commits it when
// fn succeeds.
func (e *Editor) Edit(fn func(d *Document) error) (*Document, error) {
	e.mu.Lock()
	if e.doc == nil {
		e.mu.Unlock()
		return nil, ErrNoDocument
	}
	d := e.doc.Clone()
	if err := fn(d); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	d.Reindex()
	e.doc = d
	out := d.Clone()
	e.mu.Unlock()

	e.emitter.EmitMapChanged(out.Clone())
	return out, nil
}

// commit takes ownership of d.
func (e *Editor) commit(d *Document) {
	e.mu.Lock()
	e.doc = d
	ev := d.Clone()
	e.mu.Unlock()
	e.emitter.EmitMapChanged(ev)
}

// Save stamps MapTime and persists the working document.
func (e *Editor) Save(ctx context.Context) error {
	_, err := e.stampAndSave(ctx)
	return err
}

func (e *Editor) stampAndSave(ctx context.Context) (*Document, error) {
	e.mu.Lock()
	if e.doc == nil {
		e.mu.Unlock()
		return nil, ErrNoDocument
	}
	e.doc.MapTime = Timestamp(e.now())
	e.doc.ApplySentinel()
	d := e.doc.Clone()
	e.mu.Unlock()

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode platform map: %w", err)
	}
	if err := e.repo.SaveRaw(ctx, raw); err != nil {
		return nil, fmt.Errorf("save platform map: %w", err)
	}
	return d, nil
}

// Export returns the download name and body of the working document.
func (e *Editor) Export() (string, []byte, error) {
	e.mu.Lock()
	if e.doc == nil {
		e.mu.Unlock()
		return "", nil, ErrNoDocument
	}
	e.doc.MapTime = Timestamp(e.now())
	d := e.doc.Clone()
	e.mu.Unlock()

	body, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", nil, err
	}
	return d.ExportName(), body, nil
}

// Send transfers the working document to the robot. On success MapTime is
// refreshed and the document saved.
func (e *Editor) Send(ctx context.Context, s Sender) error {
	e.mu.Lock()
	if e.doc == nil {
		e.mu.Unlock()
		return ErrNoDocument
	}
	if err := e.doc.ValidateForSend(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.doc.ApplySentinel()
	d := e.doc.Clone()
	e.mu.Unlock()

	if err := Transfer(ctx, s, d); err != nil {
		log.Printf("platformmap: transfer %q failed: %v", d.MapName, err)
		e.emitter.EmitMapSendFailed(d, err)
		return err
	}

	fp := d.Fingerprint()
	e.mu.Lock()
	e.lastSent = fp
	e.mu.Unlock()
	log.Printf("platformmap: sent %q (%d locations, fingerprint %s)", d.MapName, len(d.Map.Locations), fp)

	saved, err := e.stampAndSave(ctx)
	if err != nil {
		log.Printf("platformmap: %v", err)
		saved = d
	}
	e.emitter.EmitMapSent(saved, fp)
	return nil
}
