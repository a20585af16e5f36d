// Package bridge orchestrates the relay daemon: pending store, NATS backplane, WebSocket hub
// and the HTTP health and metrics endpoints.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/walletconnect/internal/config"
	"github.com/morezero/walletconnect/pkg/commsutil"
	"github.com/morezero/walletconnect/pkg/db"
	"github.com/morezero/walletconnect/pkg/events"
	"github.com/morezero/walletconnect/pkg/relay"
)

const logPrefix = "bridge:bridge"

// Bridge is the relay daemon.
type Bridge struct {
	cfg      *config.BridgeConfig
	nodeID   string
	hub      *relay.Hub
	store    relay.PendingStore
	pool     *pgxpool.Pool
	ns       *commsserver.Server
	nc       *comms.Conn
	relaySub *comms.Subscription
	registry *prometheus.Registry

	httpServer *http.Server
}

// HealthStatus is the /health body.
type HealthStatus struct {
	Status    string       `json:"status"`
	NodeID    string       `json:"nodeId"`
	Peers     int          `json:"peers"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks reports each dependency. Unused dependencies are omitted.
type HealthChecks struct {
	Database  *bool `json:"database,omitempty"`
	Backplane *bool `json:"backplane,omitempty"`
}

// Run starts the bridge, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadBridgeConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting wc-bridge", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := New(ctx, cfg)
	if err != nil {
		return err
	}

	b.httpServer = &http.Server{Addr: cfg.Addr(), Handler: b.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, cfg.Addr()))
		if err := b.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			cancel()
		}
	}()
	go b.purgeLoop(ctx)

	slog.Info(fmt.Sprintf("%s - wc-bridge %s is ready", logPrefix, b.nodeID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - HTTP server stopped, shutting down", logPrefix))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	b.Close(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New wires the pending store, the backplane and the hub. It does not listen.
func New(ctx context.Context, cfg *config.BridgeConfig) (*Bridge, error) {
	b := &Bridge{cfg: cfg, nodeID: cfg.NodeID, registry: prometheus.NewRegistry()}
	if b.nodeID == "" {
		b.nodeID = uuid.NewString()
	}

	// Step 1: pending store
	if err := b.openStore(ctx); err != nil {
		return nil, err
	}

	// Step 2: backplane
	if err := b.openBackplane(); err != nil {
		b.closeStore()
		return nil, err
	}

	// Step 3: hub
	b.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := &relay.HubOpts{
		Store:        b.store,
		Metrics:      relay.NewMetrics(b.registry),
		NodeID:       b.nodeID,
		PublishRPS:   cfg.PublishRPS,
		PublishBurst: cfg.PublishBurst,
		PingInterval: cfg.PingInterval,
	}
	if b.nc != nil {
		opts.Publisher = events.NewCommsPublisher(b.nc, &events.CommsPublisherOpts{Origin: b.nodeID})
	}
	b.hub = relay.NewHub(opts)

	if b.nc != nil {
		sub, err := events.SubscribeRelayed(b.nc, b.nodeID, b.hub.Deliver)
		if err != nil {
			b.closeBackplane()
			b.closeStore()
			return nil, err
		}
		b.relaySub = sub
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, commsutil.SubjectAllTopics))
	}
	return b, nil
}

func (b *Bridge) openStore(ctx context.Context) error {
	if b.cfg.DatabaseURL == "" {
		b.store = relay.NewMemoryStore(b.cfg.PendingTTL)
		slog.Info(fmt.Sprintf("%s - Keeping pending frames in memory", logPrefix))
		return nil
	}

	pool, err := db.NewPool(ctx, b.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	if b.cfg.RunMigrations {
		migrations, err := db.LoadMigrations(b.cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	b.pool = pool
	b.store = db.NewPendingRepository(pool, b.cfg.PendingTTL)
	slog.Info(fmt.Sprintf("%s - Keeping pending frames in the database", logPrefix))
	return nil
}

func (b *Bridge) openBackplane() error {
	url := b.cfg.COMMSURL
	if b.cfg.COMMSEmbedded {
		ns, err := commsserver.NewServer(&commsserver.Options{
			Host:   "0.0.0.0",
			Port:   b.cfg.COMMSEmbeddedPort,
			NoLog:  true,
			NoSigs: true,
		})
		if err != nil {
			return fmt.Errorf("%s - failed to create embedded NATS server: %w", logPrefix, err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("%s - embedded NATS server failed to start", logPrefix)
		}
		b.ns = ns
		url = fmt.Sprintf("nats://127.0.0.1:%d", ns.Addr().(*net.TCPAddr).Port)
		slog.Info(fmt.Sprintf("%s - Embedded NATS server listening on %s", logPrefix, url))
	}
	if url == "" {
		slog.Info(fmt.Sprintf("%s - No backplane configured, running a single node", logPrefix))
		return nil
	}

	nc, err := commsutil.Connect(url, &commsutil.ConnectOpts{Name: b.cfg.COMMSName})
	if err != nil {
		if b.ns != nil {
			b.ns.Shutdown()
		}
		return err
	}
	b.nc = nc
	return nil
}

// Handler serves the hub on every path except the health and metrics endpoints.
func (b *Bridge) Handler() http.Handler {
	timeout := b.cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.Handle("/", b.hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		h := b.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	return mux
}

// Health checks the database and the backplane when they are in use.
func (b *Bridge) Health(ctx context.Context) *HealthStatus {
	h := &HealthStatus{
		Status:    "healthy",
		NodeID:    b.nodeID,
		Peers:     b.hub.Peers(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if b.pool != nil {
		ok := b.pool.Ping(ctx) == nil
		h.Checks.Database = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	if b.nc != nil {
		ok := b.nc.IsConnected()
		h.Checks.Backplane = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	return h
}

// NodeID returns the id stamped on frames this node mirrors.
func (b *Bridge) NodeID() string { return b.nodeID }

// Hub returns the bridge's hub.
func (b *Bridge) Hub() *relay.Hub { return b.hub }

// BackplaneURL returns the NATS URL the bridge uses, or "" for a single node.
func (b *Bridge) BackplaneURL() string {
	if b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func (b *Bridge) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.purge(ctx)
		}
	}
}

func (b *Bridge) purge(ctx context.Context) {
	n, err := b.store.PurgeExpired(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to purge pending frames: %v", logPrefix, err))
		return
	}
	if n > 0 {
		slog.Info(fmt.Sprintf("%s - Purged %d expired pending frames", logPrefix, n))
	}
}

// Close stops the HTTP server if Run started one, closes every connection and releases the
// backplane and the database.
func (b *Bridge) Close(ctx context.Context) {
	if b.httpServer != nil {
		b.httpServer.Shutdown(ctx)
	}
	b.hub.Close()
	if b.relaySub != nil {
		b.relaySub.Unsubscribe()
	}
	b.closeBackplane()
	b.closeStore()
}

func (b *Bridge) closeBackplane() {
	switch {
	case b.nc != nil && b.ns != nil:
		b.nc.Close()
	case b.nc != nil:
		b.nc.Drain()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}

func (b *Bridge) closeStore() {
	if b.pool != nil {
		b.pool.Close()
	}
}
