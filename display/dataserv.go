package systole

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	Sp "github.com/maroda/systole/plugin"
)

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket waveform feed
// - Version and system info for programmatic use
// - Live reading, HRV and stored readings
// - Session and output control
func (v *View) SetupMux() *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.Handle("/metrics", v.Stats.Handler())
	r.HandleFunc("/ws", v.WebsocketHandler)

	// a subrouter only answers 405 with its own handler
	api := r.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.Use(v.StatsMiddleware)

	api.HandleFunc("/version", v.VersionHandler).Methods(http.MethodGet)
	api.HandleFunc("/system", v.SystemHandler).Methods(http.MethodGet)
	api.HandleFunc("/reading", v.ReadingHandler).Methods(http.MethodGet)
	api.HandleFunc("/hrv", v.HRVHandler).Methods(http.MethodGet)
	api.HandleFunc("/wave", v.WaveHandler).Methods(http.MethodGet)
	api.HandleFunc("/readings", v.ReadingsHandler).Methods(http.MethodGet)
	api.HandleFunc("/session/reset", v.ResetHandler).Methods(http.MethodPost)
	api.HandleFunc("/session/finish", v.FinishHandler).Methods(http.MethodPost)
	api.HandleFunc("/output/{action}", v.OutputControlHandler).Methods(http.MethodPost)

	return r
}

// NewServer wraps the mux with OpenTelemetry request spans
func (v *View) NewServer(addr string) *http.Server {
	if addr == "" {
		addr = ":8090"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(v.SetupMux(), "systole"),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

var Version = "dev"

// SystemInfo describes what this process is wired to
type SystemInfo struct {
	Version     string  `json:"version"`
	Session     string  `json:"session"`
	Source      string  `json:"source"`
	Output      string  `json:"output"`
	SampleRate  float64 `json:"sampleRate"`
	MIDIPort    string  `json:"midiPort,omitempty"`
	MIDIChannel int     `json:"midiChannel,omitempty"`
	MIDINote    int     `json:"midiNote,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Could not encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

func (v *View) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (v *View) SystemHandler(w http.ResponseWriter, r *http.Request) {
	snap := v.Session.Snapshot()
	info := SystemInfo{
		Version:    Version,
		Session:    snap.ID,
		Source:     snap.Source,
		Output:     "none",
		SampleRate: snap.SampleRate,
	}
	if v.Output != nil {
		info.Output = v.Output.Type()
		v.getMIDISystemInfo(&info)
	}
	writeJSON(w, http.StatusOK, info)
}

// ReadingHandler is the live Snapshot
func (v *View) ReadingHandler(w http.ResponseWriter, r *http.Request) {
	snap := v.Session.Snapshot()
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("session.id", snap.ID),
		attribute.Int("session.bpm", snap.BPM),
	)
	writeJSON(w, http.StatusOK, snap)
}

func (v *View) HRVHandler(w http.ResponseWriter, r *http.Request) {
	hrv, ok := v.Session.HRV()
	if !ok {
		writeError(w, http.StatusNotFound, "not enough intervals for HRV")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Int("hrv.count", hrv.Count),
		attribute.String("hrv.quality", string(hrv.Quality)),
	)
	writeJSON(w, http.StatusOK, hrv)
}

// WaveHandler returns the newest ?n= points, all of them without n
func (v *View) WaveHandler(w http.ResponseWriter, r *http.Request) {
	n := 0
	if q := r.URL.Query().Get("n"); q != "" {
		var err error
		n, err = strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
	}
	writeJSON(w, http.StatusOK, v.Session.Wave(n))
}

// ReadingsHandler queries stored readings in [start, end).
// Both are RFC 3339, the default is the last 24 hours.
func (v *View) ReadingsHandler(w http.ResponseWriter, r *http.Request) {
	if v.Output == nil {
		writeError(w, http.StatusNotImplemented, "no output configured")
		return
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	var err error
	if q := r.URL.Query().Get("end"); q != "" {
		if end, err = time.Parse(time.RFC3339, q); err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC 3339")
			return
		}
	}
	if q := r.URL.Query().Get("start"); q != "" {
		if start, err = time.Parse(time.RFC3339, q); err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "start must be before end")
		return
	}

	readings, err := v.Output.QueryRange(start, end)
	if err != nil {
		if errors.Is(err, Sp.ErrNoQuery) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		slog.Error("Could not query readings", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("readings.count", len(readings)))
	writeJSON(w, http.StatusOK, readings)
}

func (v *View) ResetHandler(w http.ResponseWriter, r *http.Request) {
	v.Session.Reset()
	writeJSON(w, http.StatusOK, v.Session.Snapshot())
}

// FinishHandler closes out the measurement and returns its Reading
func (v *View) FinishHandler(w http.ResponseWriter, r *http.Request) {
	reading, err := v.finish(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "reading taken but output failed: "+err.Error())
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("session.id", reading.ID))
	writeJSON(w, http.StatusOK, reading)
}

// OutputControlHandler answers /api/output/type and /api/output/flush
func (v *View) OutputControlHandler(w http.ResponseWriter, r *http.Request) {
	if v.Output == nil {
		writeError(w, http.StatusNotFound, "no output configured")
		return
	}

	switch action := mux.Vars(r)["action"]; action {
	case "type":
		writeJSON(w, http.StatusOK, map[string]string{"type": v.Output.Type()})
	case "flush":
		if err := v.Output.Flush(); err != nil {
			slog.Error("Output flush failed", slog.String("output", v.Output.Type()), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "FLUSHED"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action "+action)
	}
}
