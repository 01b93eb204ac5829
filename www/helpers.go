package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"robolink/command"
	"robolink/engine"
	"robolink/fault"
	"robolink/platformmap"
)

// maxBody bounds request bodies; map documents are a few KB.
const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeFault maps err to a status code and writes it with its kind.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := fault.KindOf(err)
	switch {
	case errors.Is(err, command.ErrInvalid),
		errors.Is(err, platformmap.ErrInvalidDocument),
		errors.Is(err, platformmap.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, platformmap.ErrNoDocument), engine.IsUnknownReadback(err):
		status = http.StatusNotFound
	case kind == fault.ConnectionUnavailable:
		status = http.StatusConflict
	case kind == fault.ChannelNotFound, kind == fault.WriteUnsupported:
		status = http.StatusBadGateway
	case kind == fault.Timeout:
		status = http.StatusGatewayTimeout
	case kind == fault.TransportDisconnected:
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{"error": err.Error()}
	if kind != fault.Unknown {
		body["kind"] = kind.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// parseIndex reads the 1-based {index} parameter and returns the array
// position.
func parseIndex(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || n < 1 {
		return 0, errors.New("invalid location index")
	}
	return n - 1, nil
}
