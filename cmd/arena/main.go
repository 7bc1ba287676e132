package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/arena/internal/arena"
	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/maps"
	"github.com/dreamware/arena/internal/proxy"
	"github.com/dreamware/arena/internal/reset"
	"github.com/dreamware/arena/internal/statusfeed"
	"github.com/dreamware/arena/internal/world"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var transfer arena.Transfer = proxy.LogOnly{}
	var proxyClient *proxy.Client
	if cfg.proxyAddr != "" {
		proxyClient = proxy.NewClient(cfg.proxyAddr)
		transfer = proxyClient
	}

	srv, err := newServer(cfg, transfer)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	if cfg.watchMaps {
		watcher, err := maps.Watch(srv.registry, func(n int, err error) {
			if err != nil {
				log.Printf("maps reload failed: %v", err)
				return
			}
			log.Printf("maps reloaded: %d definitions", n)
		})
		if err != nil {
			log.Printf("maps watcher disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	if proxyClient != nil {
		checkProxy(proxyClient)
		srv.attachProxy(proxyClient, cfg)
		go srv.heartbeat.Start(context.Background())
	}

	httpSrv := &http.Server{
		Addr:              cfg.listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("arena listening on %s", cfg.listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	srv.close()
	log.Println("arena stopped")
}

type config struct {
	listen            string
	container         string
	mapsFile          string
	proxyAddr         string
	serverID          string
	arena             arena.Config
	stageTimeout      time.Duration
	heartbeatInterval time.Duration
	watchMaps         bool
}

func loadConfig() (config, error) {
	cfg := config{
		listen:    getenv("ARENA_LISTEN", ":8090"),
		container: getenv("ARENA_CONTAINER", "./worlds"),
		mapsFile:  getenv("ARENA_MAPS", "maps.yaml"),
		proxyAddr: getenv("ARENA_PROXY_ADDR", ""),
		arena:     arena.DefaultConfig(),
	}
	cfg.arena.ActiveEnvironment = getenv("ARENA_ACTIVE", cfg.arena.ActiveEnvironment)
	cfg.arena.LobbyServer = getenv("ARENA_LOBBY", cfg.arena.LobbyServer)
	cfg.arena.ServerID = getenv("ARENA_SERVER_ID", cfg.arena.ServerID)
	cfg.arena.PresetID = getenv("ARENA_PRESET", cfg.arena.PresetID)
	cfg.serverID = cfg.arena.ServerID

	var err error
	if cfg.arena.MaxClients, err = strconv.Atoi(getenv("ARENA_MAX_CLIENTS", "16")); err != nil {
		return cfg, fmt.Errorf("ARENA_MAX_CLIENTS: %w", err)
	}
	if cfg.stageTimeout, err = time.ParseDuration(getenv("ARENA_STAGE_TIMEOUT", "0s")); err != nil {
		return cfg, fmt.Errorf("ARENA_STAGE_TIMEOUT: %w", err)
	}
	if cfg.heartbeatInterval, err = time.ParseDuration(getenv("ARENA_HEARTBEAT_INTERVAL", "5s")); err != nil {
		return cfg, fmt.Errorf("ARENA_HEARTBEAT_INTERVAL: %w", err)
	}
	if cfg.heartbeatInterval <= 0 {
		return cfg, errors.New("ARENA_HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.watchMaps, err = strconv.ParseBool(getenv("ARENA_WATCH_MAPS", "true")); err != nil {
		return cfg, fmt.Errorf("ARENA_WATCH_MAPS: %w", err)
	}
	return cfg, nil
}

type server struct {
	loop     *control.Loop
	workers  *control.Workers
	host     *world.Host
	registry *maps.Registry
	service  *arena.Service
	hub      *statusfeed.Hub

	// heartbeat is nil when no proxy is configured.
	heartbeat *proxy.HeartbeatPublisher
}

// statusUpdate is what the status feed pushes on every change.
type statusUpdate struct {
	Payload  string         `json:"payload"`
	Status   arena.Status   `json:"status"`
	Snapshot arena.Snapshot `json:"snapshot"`
}

func newServer(cfg config, transfer arena.Transfer) (*server, error) {
	loop := control.NewLoop()
	loop.Start()
	workers := control.NewWorkers()

	host := world.NewHost(cfg.container, world.NoLoader{})
	if err := loop.Call(context.Background(), host.Open); err != nil {
		loop.Stop()
		return nil, fmt.Errorf("open container %s: %w", cfg.container, err)
	}

	registry := maps.NewRegistry(cfg.mapsFile)
	if n, err := registry.Load(); err != nil {
		log.Printf("no maps loaded: %v", err)
	} else {
		log.Printf("loaded %d maps from %s", n, cfg.mapsFile)
	}

	pipeline := reset.NewPipeline(reset.NewCloner(host), loop, workers,
		reset.WithStageTimeout(cfg.stageTimeout))

	svc := arena.NewService(cfg.arena, arena.Dependencies{
		Maps:     registry,
		Resetter: pipeline,
		Host:     host,
		Loop:     loop,
		Workers:  workers,
		Transfer: transfer,
	})

	s := &server{
		loop:     loop,
		workers:  workers,
		host:     host,
		registry: registry,
		service:  svc,
		hub:      statusfeed.NewHub(),
	}
	svc.OnChange(func(st arena.Status) {
		update := statusUpdate{Payload: st.Payload(), Status: st, Snapshot: svc.Snapshot()}
		if err := s.hub.Publish(update); err != nil {
			log.Printf("status feed publish failed: %v", err)
		}
	})
	svc.OnPrepared(func(mapID string, err error) {
		if err != nil {
			log.Printf("arena failed to prepare %s: %v", mapID, err)
			return
		}
		log.Printf("arena ready on %s", mapID)
	})
	return s, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/prepare", s.handlePrepare)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/join/open", s.handleJoin(true))
	mux.HandleFunc("/join/close", s.handleJoin(false))
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/maps", s.handleMaps)
	mux.HandleFunc("/maps/reload", s.handleMapsReload)
	mux.HandleFunc("/clients", s.handleClientJoin)
	mux.HandleFunc("/clients/", s.handleClientLeave)
	mux.Handle("/ws/status", s.hub)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// checkProxy logs whether the proxy answers at startup. The arena starts
// either way; heartbeats keep tracking reachability afterwards.
func checkProxy(client *proxy.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := client.Info(ctx)
	if err != nil {
		log.Printf("proxy at %s not reachable yet: %v", client.Addr(), err)
		return
	}
	log.Printf("proxy %s reachable at %s", info.Name, client.Addr())
}

// attachProxy creates the heartbeat publisher for client. It does not start it.
func (s *server) attachProxy(client *proxy.Client, cfg config) {
	s.heartbeat = proxy.NewHeartbeatPublisher(client, cfg.serverID, cfg.heartbeatInterval, func() string {
		return s.service.Status().Payload()
	})
	s.heartbeat.SetOnUnreachable(func() {
		log.Printf("proxy at %s unreachable; lobby transfers will fail until it recovers", client.Addr())
	})
}

// healthResponse is served on /health.
type healthResponse struct {
	Status string `json:"status"`
	Proxy  string `json:"proxy"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Proxy: "disabled"}
	if s.heartbeat != nil {
		resp.Proxy = s.heartbeat.Health().Status
	}
	writeJSON(w, http.StatusOK, resp)
}

// close stops the heartbeat and the control loop and waits for background
// work.
func (s *server) close() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.hub.Close()
	s.loop.Stop()
	s.workers.Wait()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// prepareError maps a Prepare or ResetArena error to an HTTP response.
func prepareError(w http.ResponseWriter, err error) {
	var unknown *arena.UnknownMapError
	switch {
	case errors.As(err, &unknown):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, arena.ErrBusy), errors.Is(err, arena.ErrNoCurrentMap):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Map string `json:"map"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Map == "" {
		http.Error(w, "missing map", http.StatusBadRequest)
		return
	}
	if err := s.service.Prepare(req.Map); err != nil {
		prepareError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.service.Snapshot())
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.service.ResetArena(); err != nil {
		prepareError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.service.Snapshot())
}

func (s *server) handleJoin(open bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.service.SetJoinOpen(open)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.service.Snapshot())
	case http.MethodPost:
		var req struct {
			State arena.State `json:"state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad state: %v", err), http.StatusBadRequest)
			return
		}
		s.service.SetState(req.State)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, s.service.Status().Payload())
}

type mapInfo struct {
	ID       string `json:"id"`
	Template string `json:"template"`
}

func (s *server) handleMaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defs := s.registry.All()
	out := make([]mapInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, mapInfo{ID: def.ID(), Template: def.TemplateID()})
	}
	writeJSON(w, http.StatusOK, struct {
		Maps []mapInfo `json:"maps"`
	}{Maps: out})
}

func (s *server) handleMapsReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.registry.Reload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Loaded int `json:"loaded"`
	}{Loaded: n})
}

func (s *server) handleClientJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	var decision arena.JoinDecision
	err := s.loop.Call(r.Context(), func(c *control.Ctx) error {
		client, ok := s.host.Client(req.ID)
		if !ok {
			client = world.NewSession(req.ID, req.Name)
		}
		decision = s.service.HandleClientJoin(c, client)
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *server) handleClientLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/clients/")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	var left bool
	err := s.loop.Call(r.Context(), func(c *control.Ctx) error {
		if client, ok := s.host.Client(id); ok {
			if session, ok := client.(*world.Session); ok {
				session.Close()
			}
		}
		left = s.service.HandleClientLeave(c, id)
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !left {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
