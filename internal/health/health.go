// Package health reports the gateway's own liveness/readiness plus the
// health of the vector database connection, system resources, and
// configuration, and exposes the /api/v1/metrics Prometheus endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/procfs"

	"github.com/floudsdb/vectorgate/internal/config"
	"github.com/floudsdb/vectorgate/internal/pool"
)

// Status is the coarse health of one component or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is the subset of milvusclient.Client the health checker needs:
// a reachability probe against the admin connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Response mirrors the gateway's health payload shape: an overall status
// plus a per-component status and detail map.
type Response struct {
	Status        Status             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Timestamp     time.Time          `json:"timestamp"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Components    map[string]Status  `json:"components"`
	Details       map[string]any     `json:"details"`
}

// Checker assembles the gateway's health view from its live collaborators.
type Checker struct {
	Admin   Pinger
	Pool    *pool.Pool
	Config  *config.Config
	Version string

	startedAt  time.Time
	procfs     procfs.FS
	procfsOK   bool
}

func New(admin Pinger, p *pool.Pool, cfg *config.Config, version string) *Checker {
	if version == "" {
		version = "1.0.0"
	}
	fs, err := procfs.NewDefaultFS()
	return &Checker{Admin: admin, Pool: p, Config: cfg, Version: version, startedAt: time.Now(), procfs: fs, procfsOK: err == nil}
}

// Health implements GET /health: the full composite status.
func (c *Checker) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]Status{}
	details := map[string]any{}

	milvusStatus, milvusDetails := c.checkMilvus(r.Context())
	components["milvus"] = milvusStatus
	details["milvus"] = milvusDetails

	sysStatus, sysDetails := c.checkSystem()
	components["system"] = sysStatus
	details["system"] = sysDetails

	cfgStatus, cfgDetails := c.checkConfiguration()
	components["configuration"] = cfgStatus
	details["configuration"] = cfgDetails

	overall := StatusHealthy
	for _, s := range components {
		if s == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
		if s == StatusDegraded {
			overall = StatusDegraded
		}
	}

	resp := Response{
		Status:        overall,
		Service:       "vectorgate",
		Version:       c.Version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		Components:    components,
		Details:       details,
	}

	status := http.StatusOK
	if overall == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Ready implements GET /health/ready: 200 while the gateway can serve
// traffic (healthy or degraded), 503 once Milvus is unreachable.
func (c *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	milvusStatus, details := c.checkMilvus(r.Context())
	if milvusStatus == StatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "milvus": details})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// Live implements GET /health/live: the process is up and serving HTTP.
// It deliberately does not reach out to Milvus; liveness is about this
// process, not its dependencies.
func (c *Checker) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// Connections implements GET /health/connections: the connection pool's
// current occupancy, mirroring Pool.Stats.
func (c *Checker) Connections(w http.ResponseWriter, r *http.Request) {
	if c.Pool == nil {
		writeJSON(w, http.StatusOK, pool.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, c.Pool.Stats())
}

// Metrics returns the Prometheus scrape handler for /api/v1/metrics.
func Metrics() http.Handler {
	return promhttp.Handler()
}

func (c *Checker) checkMilvus(ctx context.Context) (Status, map[string]any) {
	details := map[string]any{}
	if c.Config != nil {
		details["uri"] = c.Config.MilvusURI
	}
	if c.Admin == nil {
		details["status"] = "unconfigured"
		return StatusUnhealthy, details
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.Admin.Ping(ctx); err != nil {
		details["status"] = "connection_failed"
		details["error"] = err.Error()
		return StatusUnhealthy, details
	}
	details["status"] = "connected"
	details["response_time_ms"] = float64(time.Since(start).Microseconds()) / 1000.0
	return StatusHealthy, details
}

func (c *Checker) checkSystem() (Status, map[string]any) {
	details := map[string]any{}

	if !c.procfsOK {
		details["error"] = "system monitoring unavailable"
		return StatusDegraded, details
	}

	memPercent := 0.0
	if mem, err := c.procfs.Meminfo(); err == nil && mem.MemTotal != nil && *mem.MemTotal > 0 {
		total := float64(*mem.MemTotal)
		avail := total
		if mem.MemAvailable != nil {
			avail = float64(*mem.MemAvailable)
		}
		memPercent = (total - avail) / total * 100
		details["memory_percent"] = round2(memPercent)
		details["memory_available_mb"] = round2(avail / 1024)
	} else {
		details["memory_error"] = "meminfo unavailable"
	}

	load := 0.0
	if la, err := c.procfs.LoadAvg(); err == nil {
		load = la.Load1
		details["load1"] = round2(la.Load1)
		details["load5"] = round2(la.Load5)
	}

	status := StatusHealthy
	if memPercent > 90 || load > 32 {
		status = StatusUnhealthy
	} else if memPercent > 80 || load > 16 {
		status = StatusDegraded
	}
	return status, details
}

func (c *Checker) checkConfiguration() (Status, map[string]any) {
	details := map[string]any{}
	var issues []string

	if c.Config == nil {
		details["error"] = "configuration not loaded"
		return StatusUnhealthy, details
	}

	if c.Config.MilvusURI == "" {
		issues = append(issues, "missing vector database URI")
	}
	if c.Config.MilvusUser == "" {
		issues = append(issues, "missing vector database username")
	}
	if c.Config.DatabaseURL == "" {
		issues = append(issues, "missing control-plane database URL")
	}

	details["server_host"] = c.Config.ServerHost
	details["server_port"] = c.Config.ServerPort
	details["security_enabled"] = c.Config.SecurityEnabled

	if len(issues) > 0 {
		details["issues"] = issues
		return StatusUnhealthy, details
	}
	return StatusHealthy, details
}

func round2(f float64) float64 {
	return float64(int(f*100)) / 100
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
