package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/granasat/gopwmbox/pwmbox"
	"github.com/rkjdid/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ServerConfig struct {
	ListenAddr string
	Verbose    bool
}

var DefaultServerConfig = ServerConfig{
	ListenAddr: "localhost:3636",
}

// Server exposes a PWMBox session over http.
type Server struct {
	Config *Config
	PWMBox *pwmbox.PWMBox
	Hub    *Hub

	version    string
	cfgPath    string
	router     *mux.Router
	wsUpgrader *websocket.Upgrader
	httpServer *http.Server
	log        zerolog.Logger

	writing int32
	jobs    sync.WaitGroup
}

type InfoResponse struct {
	Version     string
	State       pwmbox.State
	Port        string
	Description string
	Info        pwmbox.Info
	Slots       int
	Warnings    []string
}

type DefaultRequest struct {
	Default int
}

// NewServer creates a Server for box. Progress of box is only streamed
// on /progress if box was created with pwmbox.WithProgress(hub.Publish).
func NewServer(version string, box *pwmbox.PWMBox, hub *Hub, cfg *Config, cfgPath string) *Server {
	if cfg == nil {
		c := DefaultConfig
		cfg = &c
	}
	if hub == nil {
		hub = NewHub()
	}
	srv := &Server{
		Config:  cfg,
		PWMBox:  box,
		Hub:     hub,
		version: version,
		cfgPath: cfgPath,
		log:     log.Logger.With().Str("component", "web").Logger(),
	}
	srv.wsUpgrader = &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	verbose := srv.Config.Web.Verbose
	srv.router = mux.NewRouter()

	// shh
	srv.router.Handle("/favicon.ico", http.HandlerFunc(NilHandler))

	// register endpoints
	srv.router.Handle("/info",
		Logger(http.HandlerFunc(srv.InfoHandler), "info", verbose, srv.log)).
		Methods("GET", "HEAD")
	srv.router.Handle("/password",
		Logger(http.HandlerFunc(srv.PasswordHandler), "password", verbose, srv.log)).
		Methods("GET", "POST", "HEAD")
	srv.router.Handle("/default",
		Logger(http.HandlerFunc(srv.DefaultHandler), "default", verbose, srv.log)).
		Methods("GET", "POST", "HEAD")
	srv.router.Handle("/presets/reload",
		Logger(http.HandlerFunc(srv.ReloadHandler), "reload", verbose, srv.log)).
		Methods("POST")
	srv.router.Handle("/presets",
		Logger(http.HandlerFunc(srv.PresetsHandler), "presets", verbose, srv.log)).
		Methods("GET", "POST", "HEAD")
	srv.router.Handle("/config",
		Logger(http.HandlerFunc(srv.ConfigHandler), "config", verbose, srv.log)).
		Methods("GET", "POST", "HEAD")
	srv.router.Handle("/progress",
		Logger(http.HandlerFunc(srv.Progress), "ws-progress", verbose, srv.log)).
		Methods("GET")
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Handler:     s.router,
		Addr:        s.Config.Web.ListenAddr,
		ReadTimeout: 4 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the http server and waits for a running write-all.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Wait blocks until background write-all jobs are over.
func (s *Server) Wait() {
	s.jobs.Wait()
}

// InfoHandler encodes session state and device metadata.
func (s *Server) InfoHandler(w http.ResponseWriter, r *http.Request) {
	resp := InfoResponse{
		Version:     s.version,
		State:       s.PWMBox.State(),
		Port:        s.PWMBox.Port(),
		Description: s.PWMBox.Description(),
		Info:        s.PWMBox.Info(),
		Slots:       len(s.PWMBox.Presets()),
		Warnings:    []string{},
	}
	for _, v := range s.PWMBox.Warnings() {
		resp.Warnings = append(resp.Warnings, v.String())
	}
	writeJSON(w, resp)
}

// PasswordHandler sets the password on POST (json array of 3 digits),
// then encodes the current password.
func (s *Server) PasswordHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var p pwmbox.Password
		err := json.NewDecoder(r.Body).Decode(&p)
		if err != nil {
			s.log.Debug().Err(err).Msg("error decoding password")
			http.Error(w, "couldn't decode provided json", http.StatusUnprocessableEntity)
			return
		}
		if err = s.PWMBox.SetPassword(p); err != nil {
			s.httpError(w, "set password", err)
			return
		}
	case http.MethodGet, http.MethodHead:
		if s.PWMBox.State() != pwmbox.Bound {
			s.httpError(w, "get password", pwmbox.ErrNotBound)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("unexpected http-method (%s)", r.Method), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.PWMBox.Password())
}

// DefaultHandler sets the default slot on POST ({"Default": n}),
// then encodes the current default slot, -1 when unset.
func (s *Server) DefaultHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req DefaultRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			s.log.Debug().Err(err).Msg("error decoding default slot")
			http.Error(w, "couldn't decode provided json", http.StatusUnprocessableEntity)
			return
		}
		if err = s.PWMBox.SetDefault(req.Default); err != nil {
			s.httpError(w, "set default", err)
			return
		}
	case http.MethodGet, http.MethodHead:
		if s.PWMBox.State() != pwmbox.Bound {
			s.httpError(w, "get default", pwmbox.ErrNotBound)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("unexpected http-method (%s)", r.Method), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, DefaultRequest{Default: s.PWMBox.Info().DefaultPreset})
}

// PresetsHandler POST replaces in-memory presets with the posted document
// and writes them to the device in background (202). GET encodes
// in-memory presets as a document.
func (s *Server) PresetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var doc pwmbox.PresetsDocument
		err := json.NewDecoder(r.Body).Decode(&doc)
		if err != nil {
			s.log.Debug().Err(err).Msg("error decoding presets")
			http.Error(w, fmt.Sprintf("couldn't decode provided json: %s", err), http.StatusUnprocessableEntity)
			return
		}
		if s.PWMBox.State() != pwmbox.Bound {
			s.httpError(w, "write presets", pwmbox.ErrNotBound)
			return
		}
		presets := pwmbox.PresetsFromDocument(doc)
		for i, p := range presets {
			if err = p.Validate(); err != nil {
				s.httpError(w, "write presets", fmt.Errorf("slot %d: %w", i, err))
				return
			}
		}
		if !atomic.CompareAndSwapInt32(&s.writing, 0, 1) {
			http.Error(w, "a write is already running", http.StatusConflict)
			return
		}
		s.PWMBox.SetPresets(presets)
		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			defer atomic.StoreInt32(&s.writing, 0)
			if err := s.PWMBox.WriteAllPresets(); err != nil {
				s.log.Error().Err(err).Msg("write presets")
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("write started"))
		return
	case http.MethodGet, http.MethodHead:
	default:
		http.Error(w, fmt.Sprintf("unexpected http-method (%s)", r.Method), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, pwmbox.PresetsToDocument(s.PWMBox.Presets()))
}

// ReloadHandler reads all presets from the device, then encodes them.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if !atomic.CompareAndSwapInt32(&s.writing, 0, 1) {
		http.Error(w, "a write is running", http.StatusConflict)
		return
	}
	defer atomic.StoreInt32(&s.writing, 0)
	if err := s.PWMBox.ReadAllPresets(); err != nil {
		s.httpError(w, "read presets", err)
		return
	}
	writeJSON(w, pwmbox.PresetsToDocument(s.PWMBox.Presets()))
}

// ConfigHandler POST sets the session config (json encoded, a subset is
// fine) and saves the root config. Both methods encode the session config.
func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		// copy current config, this allows for setting only a subset of the whole config
		var cfg = s.PWMBox.Config()
		err := json.NewDecoder(r.Body).Decode(&cfg)
		if err != nil {
			s.log.Debug().Err(err).Msg("error decoding config")
			http.Error(w, "couldn't decode provided json", http.StatusUnprocessableEntity)
			return
		}
		if atomic.LoadInt32(&s.writing) != 0 {
			http.Error(w, "a write is running", http.StatusConflict)
			return
		}
		if err = s.PWMBox.SetConfig(&cfg); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.Config.PWMBox = cfg

		if s.cfgPath != "" {
			err = util.WriteTomlFile(s.Config, s.cfgPath)
			if err != nil {
				s.log.Error().Err(err).Str("path", s.cfgPath).Msg("error writing config")
			}
		}
	case http.MethodGet, http.MethodHead:
	default:
		http.Error(w, fmt.Sprintf("unexpected http-method (%s)", r.Method), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.PWMBox.Config())
}

// Progress upgrades to a websocket streaming read-all and write-all
// progress messages as json.
func (s *Server) Progress(w http.ResponseWriter, r *http.Request) {
	ch := s.Hub.Subscribe()
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Hub.Unsubscribe(ch)
		s.log.Error().Err(err).Msg("error subscribing to websocket")
		return
	}
	verbose := s.Config.Web.Verbose
	if verbose {
		s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket - subscription")
	}

	closed := make(chan struct{})

	// reader only detects the peer going away
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			s.Hub.Unsubscribe(ch)
			conn.Close()
			if verbose {
				s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket - lost connection")
			}
		}()
		for {
			select {
			case <-closed:
				return
			case m := <-ch:
				if err := conn.WriteJSON(m); err != nil {
					return
				}
			}
		}
	}()
}

// httpError maps session errors to status codes.
func (s *Server) httpError(w http.ResponseWriter, op string, err error) {
	var (
		rangeErr     *pwmbox.RangeError
		decodeErr    *pwmbox.DecodeError
		deviceErr    *pwmbox.DeviceError
		transportErr *pwmbox.TransportError
		status       = http.StatusInternalServerError
	)
	switch {
	case errors.Is(err, pwmbox.ErrNotBound):
		status = http.StatusServiceUnavailable
	case errors.As(err, &rangeErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &decodeErr), errors.As(err, &deviceErr),
		errors.As(err, &transportErr), errors.Is(err, pwmbox.ErrReadTimeout):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
	}
	http.Error(w, fmt.Sprintf("%s: %s", op, err), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
