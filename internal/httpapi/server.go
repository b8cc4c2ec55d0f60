package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ldotlopez/blemqtt/internal/scanner"
	"github.com/ldotlopez/blemqtt/internal/store"
)

var addressPattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

type StatusSource interface {
	Status() scanner.Status
}

type BrokerState interface {
	Connected() bool
}

type Server struct {
	status   StatusSource
	readings store.Readings
	broker   BrokerState
}

func NewServer(status StatusSource, readings store.Readings, broker BrokerState) *Server {
	return &Server{status: status, readings: readings, broker: broker}
}

func (s *Server) Register(mux *http.ServeMux) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/ble/status", s.handleStatus)

	r.Route("/api/ble/readings", func(r chi.Router) {
		r.Get("/", s.handleReadingsList)
		r.Get("/{address}", s.handleReadingsGet)
	})

	mux.Handle("/", r)
}

type statusResponse struct {
	scanner.Status
	BrokerConnected bool      `json:"broker_connected"`
	Now             time.Time `json:"now"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.status.Status(), Now: time.Now().UTC()}
	if s.broker != nil {
		resp.BrokerConnected = s.broker.Connected()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadingsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.readings.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []store.Reading{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReadingsGet(w http.ResponseWriter, r *http.Request) {
	addr := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "address")))
	if !addressPattern.MatchString(addr) {
		writeError(w, http.StatusBadRequest, "invalid bluetooth address")
		return
	}
	reading, ok, err := s.readings.Get(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no reading for "+addr)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}
