// Package api provides the HTTP and WebSocket surface consumed by the
// external configuration tool: mapping read/replace, reload triggering,
// status, and a live feed of button and chord events.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"

	"micepiper/internal/config"
	"micepiper/internal/mapping"
)

// Controller is the slice of the running service the API needs
type Controller interface {
	// Reload rebuilds the mapping table from the current configuration
	Reload() error

	// Pause stops or resumes dispatching without releasing devices
	Pause(paused bool)

	// Status describes the running pipeline
	Status() Status
}

// Status is the service state reported by /api/status
type Status struct {
	Devices  []DeviceStatus `json:"devices"`
	Mappings int            `json:"mappings"`
	Paused   bool           `json:"paused"`
	UptimeS  int64          `json:"uptime_s"`
}

// DeviceStatus describes one attached reader
type DeviceStatus struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Grabbed bool   `json:"grabbed"`
}

// Server provides the HTTP API for the configuration tool
type Server struct {
	configMgr *config.Manager
	ctrl      Controller
	token     string
	wsMgr     *WSManager
	httpSrv   *http.Server
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, ctrl Controller) *Server {
	s := &Server{
		configMgr: configMgr,
		ctrl:      ctrl,
	}
	s.wsMgr = newWSManager()
	return s
}

// Start listens on addr and serves until Stop. Blocking.
func (s *Server) Start(addr string) error {
	cfg := s.configMgr.Get()
	s.token = cfg.General.APIToken

	go s.wsMgr.start()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/mapping", s.handleMapping)
	mux.HandleFunc("/api/reload", s.handleReload)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("ERROR: API server failed to listen on %s: %v", addr, err)
		return err
	}
	log.Printf("API: Listening on %s", addr)

	s.httpSrv = &http.Server{
		Handler: s.authMiddleware(s.recoverMiddleware(mux)),
	}
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("ERROR: API server stopped: %v", err)
		return err
	}
	return nil
}

// Stop shuts the server down
func (s *Server) Stop() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.wsMgr.stop()
}

// BroadcastButton streams a raw button transition to connected clients
func (s *Server) BroadcastButton(device, button string, code uint16, pressed bool, ts int64) {
	s.wsMgr.BroadcastButton(device, button, code, pressed, ts)
}

// BroadcastChord streams a normalized chord to connected clients
func (s *Server) BroadcastChord(device string, buttons []string, codes []uint16, repeat, mapped bool, ts int64) {
	s.wsMgr.BroadcastChord(device, buttons, codes, repeat, mapped, ts)
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("API: recovered panic: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the API token if one is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if s.token != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.ctrl.Status())
}

// handleMapping handles GET (read) and POST (replace) of the mapping list.
// POST validates the new mapping by building a table before anything is
// persisted, so an ambiguous mapping never reaches disk or the dispatcher.
func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.configMgr.Get().Mappings)

	case http.MethodPost:
		var mappings []config.Mapping
		if err := json.NewDecoder(r.Body).Decode(&mappings); err != nil {
			http.Error(w, "Invalid mapping data", http.StatusBadRequest)
			return
		}

		if _, err := mapping.FromConfig(mappings); err != nil {
			log.Printf("API: Rejecting mapping update: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.Printf("API: Applying mapping update from %s (%d entries)", r.RemoteAddr, len(mappings))
		s.configMgr.SetMappings(mappings)
		if err := s.configMgr.Save(); err != nil {
			log.Printf("API: Failed to save config: %v", err)
			http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
			return
		}
		if err := s.ctrl.Reload(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.wsMgr.BroadcastReload(len(mappings))
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReload handles POST /api/reload, the same trigger as SIGHUP
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.configMgr.Load(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.ctrl.Reload(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.wsMgr.BroadcastReload(len(s.configMgr.Get().Mappings))
	writeJSON(w, map[string]string{"status": "ok"})
}

// handlePause handles POST /api/pause?paused=true|false
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	paused := r.URL.Query().Get("paused") != "false"
	s.ctrl.Pause(paused)
	writeJSON(w, map[string]bool{"paused": paused})
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
