// Package milvusclient models the external vector database as a
// collaborator: a narrow Client interface capturing the RPCs
// ProvisioningCore and VectorStoreCore need, plus a gRPC-backed
// implementation. The vector engine itself is out of scope; only its
// contract is specified here.
package milvusclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/floudsdb/vectorgate/internal/domain"
)

// Client is everything the gateway needs from a live connection to the
// vector database, scoped to one (uri, user, database) credential set.
type Client interface {
	Ping(ctx context.Context) error

	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	CreateRole(ctx context.Context, role string) error
	DropRole(ctx context.Context, role string) error
	CreateUser(ctx context.Context, username, password string) error
	DeleteUser(ctx context.Context, username string) error
	UpdateUserPassword(ctx context.Context, username, password string) error
	GrantRole(ctx context.Context, username, role string) error
	RevokeRole(ctx context.Context, username, role string) error
	GrantPrivileges(ctx context.Context, role, collection string, privileges []string) error
	RevokePrivileges(ctx context.Context, role, collection string, privileges []string) error

	DescribeCollection(ctx context.Context, collection string) (*CollectionInfo, error)
	CreateCollection(ctx context.Context, spec domain.CollectionSpec, collection string) error
	Upsert(ctx context.Context, collection string, rows []Row) error
	Delete(ctx context.Context, collection string, keys []string) error
	Flush(ctx context.Context, collection string) error
	SearchDense(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64, metric domain.Metric) ([]domain.SearchHit, error)
	SearchSparse(ctx context.Context, collection string, terms map[string]float64, limit int) ([]domain.SearchHit, error)

	Close() error
}

// CollectionInfo is the subset of a collection's schema the gateway cares
// about when checking for dimension conflicts.
type CollectionInfo struct {
	Name      string
	Dimension int
}

// Row is one columnar insert unit sent over the wire.
type Row struct {
	Key    string
	Dense  []float32
	Sparse map[string]float64
	Chunk  string
	Model  string
	Meta   map[string]any
}

// ErrNotConnected is returned by operations attempted after Close.
var ErrNotConnected = fmt.Errorf("milvusclient: not connected")

// ErrAlreadyExists is returned by create-style calls (CreateDatabase,
// CreateRole, CreateUser) when the object is already present, letting
// ProvisioningCore's idempotent steps tell "already there" apart from a
// real failure.
var ErrAlreadyExists = fmt.Errorf("milvusclient: already exists")

// GRPCConfig configures a GRPCClient dial.
type GRPCConfig struct {
	Address        string
	User           string
	Password       string
	Database       string
	UseTLS         bool
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	RetryAttempts  int
}

func (c *GRPCConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

// GRPCClient is the real Client implementation: a gRPC connection bound
// to one set of tenant credentials, dialed once and reused across
// operations through the connection pool.
type GRPCClient struct {
	conn   *grpc.ClientConn
	cfg    GRPCConfig
}

// Dial opens a gRPC connection to the vector database and verifies it
// with a Ping before returning, matching the pool's "creation failures
// are not cached" contract.
func Dial(ctx context.Context, cfg GRPCConfig) (*GRPCClient, error) {
	cfg.applyDefaults()

	cred := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	if !cfg.UseTLS || strings.HasPrefix(cfg.Address, "localhost:") || strings.HasPrefix(cfg.Address, "127.0.0.1:") {
		cred = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	conn, err := grpc.NewClient(
		cfg.Address,
		cred,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                25 * time.Second,
			Timeout:             6 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}
	conn.Connect()

	client := &GRPCClient{conn: conn, cfg: cfg}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(dialCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

func (c *GRPCClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/CheckHealth", nil, nil)
}

func (c *GRPCClient) CreateDatabase(ctx context.Context, name string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/CreateDatabase", name, nil)
}

func (c *GRPCClient) DropDatabase(ctx context.Context, name string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/DropDatabase", name, nil)
}

func (c *GRPCClient) CreateRole(ctx context.Context, role string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/CreateRole", role, nil)
}

func (c *GRPCClient) DropRole(ctx context.Context, role string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/DropRole", role, nil)
}

func (c *GRPCClient) CreateUser(ctx context.Context, username, password string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/CreateCredential", [2]string{username, password}, nil)
}

func (c *GRPCClient) DeleteUser(ctx context.Context, username string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/DeleteCredential", username, nil)
}

func (c *GRPCClient) UpdateUserPassword(ctx context.Context, username, password string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/UpdateCredential", [2]string{username, password}, nil)
}

func (c *GRPCClient) GrantRole(ctx context.Context, username, role string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/OperateUserRole", [2]string{username, role}, nil)
}

func (c *GRPCClient) RevokeRole(ctx context.Context, username, role string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/OperateUserRole", [2]string{role, username}, nil)
}

func (c *GRPCClient) GrantPrivileges(ctx context.Context, role, collection string, privileges []string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/OperatePrivilege", privilegeGrant{role, collection, privileges}, nil)
}

func (c *GRPCClient) RevokePrivileges(ctx context.Context, role, collection string, privileges []string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/OperatePrivilege", privilegeGrant{role, collection, privileges}, nil)
}

func (c *GRPCClient) DescribeCollection(ctx context.Context, collection string) (*CollectionInfo, error) {
	var info CollectionInfo
	if err := c.invoke(ctx, "/milvus.proto.milvus.MilvusService/DescribeCollection", collection, &info); err != nil {
		return nil, err
	}
	info.Name = collection
	return &info, nil
}

func (c *GRPCClient) CreateCollection(ctx context.Context, spec domain.CollectionSpec, collection string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/CreateCollection", createCollectionReq{collection, spec}, nil)
}

func (c *GRPCClient) Upsert(ctx context.Context, collection string, rows []Row) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/Upsert", upsertReq{collection, rows}, nil)
}

func (c *GRPCClient) Delete(ctx context.Context, collection string, keys []string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/Delete", deleteReq{collection, keys}, nil)
}

func (c *GRPCClient) Flush(ctx context.Context, collection string) error {
	return c.invoke(ctx, "/milvus.proto.milvus.MilvusService/Flush", collection, nil)
}

func (c *GRPCClient) SearchDense(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64, metric domain.Metric) ([]domain.SearchHit, error) {
	if metric == "" {
		metric = domain.MetricCosine
	}
	var hits []domain.SearchHit
	req := searchReq{collection, vector, limit, scoreThreshold, metric}
	if err := c.invoke(ctx, "/milvus.proto.milvus.MilvusService/Search", req, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *GRPCClient) SearchSparse(ctx context.Context, collection string, terms map[string]float64, limit int) ([]domain.SearchHit, error) {
	var hits []domain.SearchHit
	req := sparseSearchReq{collection, terms, limit}
	if err := c.invoke(ctx, "/milvus.proto.milvus.MilvusService/Search", req, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

type privilegeGrant struct {
	Role       string
	Collection string
	Privileges []string
}

type createCollectionReq struct {
	Collection string
	Spec       domain.CollectionSpec
}

type upsertReq struct {
	Collection string
	Rows       []Row
}

type deleteReq struct {
	Collection string
	Keys       []string
}

type searchReq struct {
	Collection     string
	Vector         []float32
	Limit          int
	ScoreThreshold float64
	MetricType     domain.Metric
}

type sparseSearchReq struct {
	Collection string
	Terms      map[string]float64
	Limit      int
}

// invoke issues a unary gRPC call with retry on transient status codes,
// matching the backoff policy of the pack's other gRPC collaborators.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, reply any) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		err := c.conn.Invoke(ctx, method, req, reply)
		if err == nil {
			return nil
		}
		lastErr = err
		if isAlreadyExists(err) {
			return ErrAlreadyExists
		}
		if !isTransient(err) {
			return err
		}
		if attempt == c.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", method, c.cfg.RetryAttempts, lastErr)
}

func isAlreadyExists(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.AlreadyExists
}

func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

var _ Client = (*GRPCClient)(nil)
