package www

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"robolink/command"
	"robolink/engine"
	"robolink/fault"
	"robolink/status"
	"robolink/store"
)

// adminCommands change how the robot behaves until reset and need a login.
var adminCommands = map[string]bool{
	command.CmdPrepareForTest.Name:    true,
	command.CmdPrepareForMapping.Name: true,
}

type statusResponse struct {
	engine.Status
	Outbox *store.OutboxStats `json:"outbox,omitempty"`
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: h.engine.Status()}
	if db := h.engine.DB(); db != nil {
		if st, err := db.OutboxBacklog(); err != nil {
			log.Printf("www: outbox backlog: %v", err)
		} else {
			resp.Outbox = &st
		}
	}
	writeJSON(w, resp)
}

func (h *Handlers) apiConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.engine.Connect(r.Context(), req.Name); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, h.engine.Status())
}

func (h *Handlers) apiDisconnect(w http.ResponseWriter, r *http.Request) {
	h.engine.Disconnect()
	writeJSON(w, h.engine.Status())
}

func (h *Handlers) apiCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if adminCommands[name] && !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := command.Decode(name, body)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := h.engine.Send(r.Context(), c); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "command": name})
}

func (h *Handlers) apiListCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.engine.DB().ListCommands(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, cmds)
}

func (h *Handlers) apiReadback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, err := h.engine.ReadBack(r.Context(), name)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"name":  name,
		"hex":   hex.EncodeToString(value),
		"bytes": len(value),
	})
}

type decodedFrame struct {
	Bytes     int              `json:"bytes"`
	Complete  bool             `json:"complete"`
	Truncated string           `json:"truncated,omitempty"`
	View      status.View      `json:"view"`
	Raw       *status.Snapshot `json:"raw"`
}

// apiDecodeTelemetry decodes a hex frame for diagnostics. Whitespace and
// colons between bytes are ignored.
func (h *Handlers) apiDecodeTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clean := strings.Map(func(c rune) rune {
		switch c {
		case ' ', '\n', '\r', '\t', ':':
			return -1
		}
		return c
	}, string(bytes.TrimSpace(body)))
	buf, err := hex.DecodeString(clean)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be hex: "+err.Error())
		return
	}

	snap, derr := status.DecodeChecked(buf)
	out := decodedFrame{
		Bytes:    len(buf),
		Complete: snap.Complete(),
		View:     status.Describe(snap),
		Raw:      snap,
	}
	if fault.Is(derr, fault.DecodeTruncated) {
		out.Truncated = derr.Error()
	}
	writeJSON(w, out)
}
