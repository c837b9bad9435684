// Package api exposes the host manager over HTTP for local tooling: status,
// capture control, frame/cursor/audio read-out, and input injection.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shmcast/shmcast/internal/host"
	"github.com/shmcast/shmcast/internal/input"
	"github.com/shmcast/shmcast/internal/logger"
	"github.com/shmcast/shmcast/internal/protocol"
)

// Server routes API requests to the host manager and the input injector.
// Input may be nil; the inject endpoint then reports 503.
type Server struct {
	manager *host.Manager
	input   *input.Manager
	router  *mux.Router
}

// NewServer builds the router. The caller owns the http.Server around it.
func NewServer(manager *host.Manager, injector *input.Manager) *Server {
	s := &Server{
		manager: manager,
		input:   injector,
		router:  mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/capture/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/capture/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/capture/format", s.handleFormat).Methods(http.MethodPost)
	api.HandleFunc("/frame", s.handleFrame).Methods(http.MethodGet)
	api.HandleFunc("/cursor", s.handleCursor).Methods(http.MethodGet)
	api.HandleFunc("/audio", s.handleAudio).Methods(http.MethodGet)
	api.HandleFunc("/input", s.handleInput).Methods(http.MethodPost)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		host.Status
		Input *input.Stats `json:"input,omitempty"`
	}
	resp := statusResponse{Status: s.manager.Status()}
	if s.input != nil {
		stats := s.input.Stats()
		resp.Input = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.StartCapture(); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.StopCapture(); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.manager.Status())
}

type formatRequest struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Format string `json:"format"`
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	format, err := protocol.PixelFormatByName(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.SetFormat(req.Width, req.Height, format); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.manager.LatestFrame()
	if err != nil {
		if errors.Is(err, protocol.ErrNoFrame) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Frame-Sequence", strconv.FormatUint(frame.Meta.Sequence, 10))
	h.Set("X-Frame-Timestamp-Ns", strconv.FormatUint(frame.Meta.TimestampNS, 10))
	h.Set("X-Frame-Width", strconv.FormatUint(uint64(s.manager.Status().Width), 10))
	h.Set("X-Frame-Height", strconv.FormatUint(uint64(s.manager.Status().Height), 10))
	h.Set("X-Frame-Format", s.manager.Status().Format)
	if frame.Stale {
		h.Set("X-Frame-Stale", "1")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}

type cursorResponse struct {
	X       int32  `json:"x"`
	Y       int32  `json:"y"`
	Visible bool   `json:"visible"`
	Updates uint32 `json:"updates"`
	Shape   *struct {
		Width  uint16 `json:"width"`
		Height uint16 `json:"height"`
		HotX   int16  `json:"hot_x"`
		HotY   int16  `json:"hot_y"`
		Data   []byte `json:"data"` // base64 BGRA
	} `json:"shape,omitempty"`
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.CursorState()
	if err != nil {
		if errors.Is(err, protocol.ErrCursorTorn) {
			// The guest kept rewriting the shape across every retry; the
			// caller should simply ask again.
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	resp := cursorResponse{
		X:       snap.X,
		Y:       snap.Y,
		Visible: snap.Visible,
		Updates: snap.Updates,
	}
	if snap.HasShape {
		resp.Shape = &struct {
			Width  uint16 `json:"width"`
			Height uint16 `json:"height"`
			HotX   int16  `json:"hot_x"`
			HotY   int16  `json:"hot_y"`
			Data   []byte `json:"data"`
		}{
			Width:  snap.Shape.Width,
			Height: snap.Shape.Height,
			HotX:   snap.Shape.HotX,
			HotY:   snap.Shape.HotY,
			Data:   snap.Shape.Data,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

const maxAudioDrain = 1 << 20

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	max := 64 * 1024
	if q := r.URL.Query().Get("max"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 || v > maxAudioDrain {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid max %q", q))
			return
		}
		max = v
	}

	info, err := s.manager.AudioInfo()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	data := s.manager.DrainAudio(max)

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Audio-Format", info.Format.String())
	h.Set("X-Audio-Sample-Rate", strconv.FormatUint(uint64(info.SampleRate), 10))
	h.Set("X-Audio-Channels", strconv.FormatUint(uint64(info.Channels), 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if s.input == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("input injection disabled"))
		return
	}

	var req input.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.input.Inject(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": req.EventCount()})
}
