package www

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"robolink/platformmap"
)

func (h *Handlers) apiGetMap(w http.ResponseWriter, r *http.Request) {
	d := h.engine.Maps().Current()
	if d == nil {
		writeFault(w, platformmap.ErrNoDocument)
		return
	}
	w.Header().Set("ETag", etag(d))
	writeJSON(w, d)
}

func (h *Handlers) apiReplaceMap(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.engine.Maps().Replace(raw)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, d)
}

func (h *Handlers) apiNewMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Maps().New())
}

func (h *Handlers) apiImportMap(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.engine.Maps().Import(raw)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, d)
}

// apiExportMap serves the document as a download. The ETag is the content
// fingerprint, so it does not change when only MapTime does.
func (h *Handlers) apiExportMap(w http.ResponseWriter, r *http.Request) {
	d := h.engine.Maps().Current()
	if d == nil {
		writeFault(w, platformmap.ErrNoDocument)
		return
	}
	tag := etag(d)
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	name, body, err := h.engine.Maps().Export()
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("ETag", tag)
	w.Write(body)
}

func etag(d *platformmap.Document) string {
	return `"` + d.Fingerprint() + `"`
}

func (h *Handlers) apiAddLocation(w http.ResponseWriter, r *http.Request) {
	var added platformmap.Entry
	d, err := h.engine.Maps().Edit(func(d *platformmap.Document) error {
		added = d.AddLocation()
		return nil
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"location": added, "map": d})
}

func (h *Handlers) apiUpdateLocation(w http.ResponseWriter, r *http.Request) {
	i, err := parseIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var e platformmap.Entry
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.engine.Maps().Edit(func(d *platformmap.Document) error {
		return d.UpdateLocation(i, e)
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, d)
}

func (h *Handlers) apiRemoveLocation(w http.ResponseWriter, r *http.Request) {
	i, err := parseIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.engine.Maps().Edit(func(d *platformmap.Document) error {
		return d.RemoveLocation(i)
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, d)
}

func (h *Handlers) apiMoveLocationUp(w http.ResponseWriter, r *http.Request) {
	h.moveLocation(w, r, (*platformmap.Document).MoveUp)
}

func (h *Handlers) apiMoveLocationDown(w http.ResponseWriter, r *http.Request) {
	h.moveLocation(w, r, (*platformmap.Document).MoveDown)
}

// moveLocation applies move; a move off either end leaves the map as is.
func (h *Handlers) moveLocation(w http.ResponseWriter, r *http.Request, move func(*platformmap.Document, int) bool) {
	i, err := parseIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	moved := false
	d, err := h.engine.Maps().Edit(func(d *platformmap.Document) error {
		if i >= len(d.Map.Locations) {
			return fmt.Errorf("%w: %d", platformmap.ErrOutOfRange, i+1)
		}
		moved = move(d, i)
		return nil
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"moved": moved, "map": d})
}

func (h *Handlers) apiSendMap(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SendMap(r.Context()); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "sent", "fingerprint": h.engine.Maps().LastSent()})
}
