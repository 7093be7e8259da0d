// Package keymanager owns client identity: creation, secret verification,
// fingerprint issuance, and tenant binding, backed by Postgres via
// internal/store.
package keymanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/store"
)

// Cipher encrypts/decrypts the secondary, recoverable copy of a client
// secret. A nil Cipher disables encrypted-secret storage; hashed secrets
// are always stored regardless.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// clientDB is the subset of *store.Store the KeyManager needs; narrowed
// to an interface so tests can fake the clients table without Postgres.
type clientDB interface {
	GetClient(ctx context.Context, clientID string) (*store.ClientRow, error)
	UpsertClient(ctx context.Context, row *store.ClientRow) error
	DeleteClient(ctx context.Context, clientID string) (bool, error)
	TouchClient(ctx context.Context, clientID string) error
	ListClients(ctx context.Context) ([]store.ClientRow, error)
	HasAdmin(ctx context.Context) (bool, error)
	InsertFingerprintEvent(ctx context.Context, fingerprint, username, tenantCode, action, details string) error
}

// Manager is the KeyManager.
type Manager struct {
	db         clientDB
	cipher     Cipher
	secretsDir string
}

func New(db *store.Store, cipher Cipher, secretsDir string) *Manager {
	return &Manager{db: db, cipher: cipher, secretsDir: secretsDir}
}

// CreateClient stores a new client record: hashed_secret = bcrypt(secret),
// encrypted_secret = Cipher.Encrypt(secret) when a cipher is configured.
// tenant == "" marks a global admin/client.
func (m *Manager) CreateClient(ctx context.Context, username, secret, tenant, clientType string, actions []string) (*domain.Client, error) {
	if username == "" || secret == "" {
		return nil, errfmt.New(errfmt.KindValidation, "username and secret are required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, errfmt.Wrap(errfmt.KindInternal, "failed to hash secret", err)
	}

	var encrypted string
	if m.cipher != nil {
		encrypted, err = m.cipher.Encrypt(secret)
		if err != nil {
			return nil, errfmt.Wrap(errfmt.KindInternal, "failed to encrypt secret", err)
		}
	}

	fp := Fingerprint(username, string(hashed))

	row := &store.ClientRow{
		ClientID:        username,
		HashedSecret:    string(hashed),
		EncryptedSecret: encrypted,
		ClientType:      clientType,
		TenantCode:      tenant,
		AllowedActions:  strings.Join(actions, ","),
		Fingerprint:     fp,
	}

	if err := m.db.UpsertClient(ctx, row); err != nil {
		return nil, errfmt.Wrap(errfmt.KindInternal, "failed to store client", err)
	}

	m.recordFingerprintEvent(ctx, fp, username, tenant, "create")
	return rowToClient(row), nil
}

// recordFingerprintEvent best-effort logs an identity-changing action to
// the audit trail; a write failure here must not fail the caller's
// request, so the error is dropped.
func (m *Manager) recordFingerprintEvent(ctx context.Context, fingerprint, username, tenant, action string) {
	details := "event_id=" + uuid.NewString()
	_ = m.db.InsertFingerprintEvent(ctx, fingerprint, username, tenant, action, details)
}

// Validate checks presented credentials against the stored bcrypt hash
// and, when expectedTenant is non-empty, enforces tenant binding.
func (m *Manager) Validate(ctx context.Context, username, presentedSecret, expectedTenant string) (*domain.Client, error) {
	row, err := m.db.GetClient(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errfmt.New(errfmt.KindAuthentication, "invalid credentials")
	}
	if err != nil {
		return nil, errfmt.Wrap(errfmt.KindInternal, "failed to load client", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.HashedSecret), []byte(presentedSecret)); err != nil {
		return nil, errfmt.New(errfmt.KindAuthentication, "invalid credentials")
	}

	if expectedTenant != "" && row.TenantCode != expectedTenant {
		return nil, errfmt.New(errfmt.KindAuthentication, "tenant mismatch")
	}

	_ = m.db.TouchClient(ctx, username)
	m.recordFingerprintEvent(ctx, row.Fingerprint, username, row.TenantCode, "validate")
	return rowToClient(row), nil
}

// ListFingerprints returns every client's fingerprint for audit.
func (m *Manager) ListFingerprints(ctx context.Context) ([]domain.Client, error) {
	rows, err := m.db.ListClients(ctx)
	if err != nil {
		return nil, errfmt.Wrap(errfmt.KindInternal, "failed to list clients", err)
	}
	out := make([]domain.Client, 0, len(rows))
	for i := range rows {
		out = append(out, *rowToClient(&rows[i]))
	}
	return out, nil
}

func (m *Manager) RemoveClient(ctx context.Context, username string) (bool, error) {
	ok, err := m.db.DeleteClient(ctx, username)
	if err != nil {
		return false, errfmt.Wrap(errfmt.KindInternal, "failed to remove client", err)
	}
	if ok {
		m.recordFingerprintEvent(ctx, "", username, "", "remove")
	}
	return ok, nil
}

// EnsureBootstrapAdmin creates a global admin client if none exists yet,
// writing the one-time generated secret to a file under secretsDir.
func (m *Manager) EnsureBootstrapAdmin(ctx context.Context) error {
	hasAdmin, err := m.db.HasAdmin(ctx)
	if err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to check for existing admin", err)
	}
	if hasAdmin {
		return nil
	}

	secret, err := generateSecret()
	if err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to generate bootstrap admin secret", err)
	}

	const adminUsername = "admin"
	if _, err := m.CreateClient(ctx, adminUsername, secret, "", "admin", []string{"*"}); err != nil {
		return err
	}

	if err := os.MkdirAll(m.secretsDir, 0o700); err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to create secrets directory", err)
	}

	path := filepath.Join(m.secretsDir, "bootstrap_admin.txt")
	contents := fmt.Sprintf(
		"Gateway bootstrap admin credentials\nGenerated: %s\n\nClient ID: %s\nClient Secret: %s\n\nAuthorization: Bearer %s:%s\n",
		time.Now().UTC().Format(time.RFC3339), adminUsername, secret, adminUsername, secret,
	)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return errfmt.Wrap(errfmt.KindInternal, "failed to write bootstrap admin credentials", err)
	}

	return nil
}

// Fingerprint derives a stable audit identifier for a client from its
// username and hashed secret.
func Fingerprint(username, hashedSecret string) string {
	sum := sha256.Sum256([]byte(username + "|" + hashedSecret))
	return hex.EncodeToString(sum[:])
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func rowToClient(row *store.ClientRow) *domain.Client {
	var actions []string
	if row.AllowedActions != "" {
		actions = strings.Split(row.AllowedActions, ",")
	}
	var lastUsed time.Time
	if row.LastUsedAt != nil {
		lastUsed = *row.LastUsedAt
	}
	return &domain.Client{
		Username:        row.ClientID,
		HashedSecret:    row.HashedSecret,
		EncryptedSecret: row.EncryptedSecret,
		Fingerprint:     row.Fingerprint,
		TenantCode:      row.TenantCode,
		AllowedActions:  actions,
		CreatedAt:       row.CreatedAt,
		LastUsedAt:      lastUsed,
	}
}
