// Package domain holds the core persistence-agnostic types shared across
// the gateway: clients, config entries, embedded vectors, search hits,
// collection specs, fingerprint events and provisioning summaries.
package domain

import "time"

// Client is a principal that can authenticate against the gateway.
// Created out-of-band (bootstrap) or via the admin API.
type Client struct {
	Username        string
	HashedSecret    string
	EncryptedSecret string
	Fingerprint     string
	TenantCode      string // empty means global admin
	AllowedActions  []string
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// IsGlobal reports whether the client is bound to no tenant (a global admin).
func (c *Client) IsGlobal() bool {
	return c.TenantCode == ""
}

// ConfigEntry is a tenant-scoped key/value row. Empty TenantCode means global.
type ConfigEntry struct {
	Key        string
	TenantCode string
	Value      string
	Encrypted  bool
}

// EmbeddedVector is a single insert unit for the vector store.
type EmbeddedVector struct {
	Key      string
	Chunk    string
	Model    string
	Metadata map[string]any
	Vector   []float32
}

// SearchHit is a single search result returned to callers.
type SearchHit struct {
	ID    string
	Score float64
	Chunk string
	Meta  map[string]any
}

// Metric identifies the vector distance metric used by an index.
type Metric string

const (
	MetricCosine Metric = "COSINE"
	MetricL2     Metric = "L2"
	MetricIP     Metric = "IP"
)

// IndexType identifies the ANN index algorithm requested for a collection.
type IndexType string

const (
	IndexIVFFlat IndexType = "IVF_FLAT"
	IndexIVFSQ8  IndexType = "IVF_SQ8"
	IndexHNSW    IndexType = "HNSW"
)

// CollectionSpec describes the parameters used to (idempotently) create a
// per-tenant, per-model vector collection.
type CollectionSpec struct {
	TenantCode      string
	Model           string
	Dimension       int
	Metric          Metric
	IndexType       IndexType
	NList           int
	MetadataLength  int
	DropRatioBuild  float64
}

// FingerprintEvent is an append-only audit log entry.
type FingerprintEvent struct {
	Fingerprint string
	Username    string
	TenantCode  string
	Action      string
	OccurredAt  time.Time
	Details     string // pre-sanitized before storage
}

// ProvisioningSummary is returned by ProvisioningCore.SetVectorStore.
type ProvisioningSummary struct {
	DatabaseCreated     bool
	UserCreated         bool
	PermissionsGranted  bool
	Username            string
	Password            string // only set once, on creation or reset
}
