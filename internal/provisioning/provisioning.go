// Package provisioning implements the tenant/user/role/collection
// lifecycle state machine: set_vector_store and reset_password, each
// composed through internal/txn so a failure partway through unwinds
// whatever was created.
package provisioning

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/floudsdb/vectorgate/internal/domain"
	"github.com/floudsdb/vectorgate/internal/errfmt"
	"github.com/floudsdb/vectorgate/internal/milvusclient"
	"github.com/floudsdb/vectorgate/internal/txn"
	"github.com/floudsdb/vectorgate/internal/vectorstore"
)

// dbPasswordConfigKey is the ConfigStore key under which each tenant's
// current database-user password is kept, encrypted at rest, so
// ResetPassword can restore the previous value on rollback.
const dbPasswordConfigKey = "db_user_password"

const (
	passwordLength    = 16
	passwordUpper     = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordLower     = "abcdefghijkmnopqrstuvwxyz"
	passwordDigits    = "23456789"
	passwordSymbols   = "!@#$%^&*-_=+"
	passwordCharset   = passwordUpper + passwordLower + passwordDigits + passwordSymbols
	minPasswordLength = 12
)

// SecretStore is the subset of ConfigStore's API ProvisioningCore needs to
// snapshot and restore a tenant's database-user password across a
// ResetPassword rollback. *configstore.Store satisfies this directly.
type SecretStore interface {
	Add(ctx context.Context, key, tenant, value string, encrypted bool) error
	Update(ctx context.Context, key, tenant, value string, encrypted bool) error
	Delete(ctx context.Context, key, tenant string) error
	GetDecrypted(ctx context.Context, key, tenant string) (string, error)
}

// Store is ProvisioningCore.
type Store struct {
	configs SecretStore
}

func New(configs SecretStore) *Store {
	return &Store{configs: configs}
}

// SetVectorStore ensures a tenant's database, role and user exist and
// the user holds the role, granting a freshly generated password once,
// on creation. Each step is a transaction op so a later failure drops
// the objects created by earlier ones.
func (s *Store) SetVectorStore(ctx context.Context, client milvusclient.Client, tenant string) (*domain.ProvisioningSummary, error) {
	dbName := tenant
	role := vectorstore.RoleName(tenant)
	user := vectorstore.UserName(tenant)

	summary := &domain.ProvisioningSummary{}
	var roleCreated bool

	t := txn.Begin("provisioning.set_vector_store")

	t.Add(
		func(ctx context.Context) (any, error) {
			err := client.CreateDatabase(ctx, dbName)
			if errors.Is(err, milvusclient.ErrAlreadyExists) {
				summary.DatabaseCreated = false
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			summary.DatabaseCreated = true
			return nil, nil
		},
		func(ctx context.Context, _ any) error {
			if !summary.DatabaseCreated {
				return nil
			}
			return client.DropDatabase(ctx, dbName)
		},
	)

	t.Add(
		func(ctx context.Context) (any, error) {
			err := client.CreateRole(ctx, role)
			if errors.Is(err, milvusclient.ErrAlreadyExists) {
				roleCreated = false
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			roleCreated = true
			return nil, nil
		},
		func(ctx context.Context, _ any) error {
			if !roleCreated {
				return nil
			}
			return client.DropRole(ctx, role)
		},
	)

	var password string
	t.Add(
		func(ctx context.Context) (any, error) {
			pw, err := generatePassword()
			if err != nil {
				return nil, err
			}
			err = client.CreateUser(ctx, user, pw)
			if errors.Is(err, milvusclient.ErrAlreadyExists) {
				summary.UserCreated = false
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			summary.UserCreated = true
			password = pw
			if s.configs != nil {
				_ = s.configs.Delete(ctx, dbPasswordConfigKey, tenant) // clear any stale record first
				if err := s.configs.Add(ctx, dbPasswordConfigKey, tenant, pw, true); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
		func(ctx context.Context, _ any) error {
			if !summary.UserCreated {
				return nil
			}
			var errs []error
			if err := client.DeleteUser(ctx, user); err != nil {
				errs = append(errs, err)
			}
			if s.configs != nil {
				if err := s.configs.Delete(ctx, dbPasswordConfigKey, tenant); err != nil {
					errs = append(errs, err)
				}
			}
			return joinErrors(errs)
		},
	)

	t.Add(
		func(ctx context.Context) (any, error) {
			if err := client.GrantRole(ctx, user, role); err != nil {
				return nil, err
			}
			summary.PermissionsGranted = true
			return nil, nil
		},
		func(ctx context.Context, _ any) error {
			if !summary.PermissionsGranted {
				return nil
			}
			return client.RevokeRole(ctx, user, role)
		},
	)

	if _, err := t.Execute(ctx); err != nil {
		return nil, errfmt.Wrap(errfmt.KindOperation, "set_vector_store failed", err)
	}

	if summary.UserCreated {
		summary.Username = user
		summary.Password = password
	}
	return summary, nil
}

// ResetPassword generates and applies a new database-user password,
// restoring the previous one on rollback via the snapshot ConfigStore
// keeps for exactly this purpose.
func (s *Store) ResetPassword(ctx context.Context, client milvusclient.Client, tenant string) (*domain.ProvisioningSummary, error) {
	user := vectorstore.UserName(tenant)

	newPassword, err := generatePassword()
	if err != nil {
		return nil, errfmt.Wrap(errfmt.KindInternal, "failed to generate password", err)
	}
	if err := validatePasswordPolicy(newPassword); err != nil {
		return nil, err
	}

	var prevPassword string
	var hadPrev bool
	if s.configs != nil {
		if pw, err := s.configs.GetDecrypted(ctx, dbPasswordConfigKey, tenant); err == nil {
			prevPassword, hadPrev = pw, true
		}
	}

	t := txn.Begin("provisioning.reset_password")
	t.Add(
		func(ctx context.Context) (any, error) {
			if err := client.UpdateUserPassword(ctx, user, newPassword); err != nil {
				return nil, err
			}
			if s.configs == nil {
				return nil, nil
			}
			var err error
			if hadPrev {
				err = s.configs.Update(ctx, dbPasswordConfigKey, tenant, newPassword, true)
			} else {
				err = s.configs.Add(ctx, dbPasswordConfigKey, tenant, newPassword, true)
			}
			if err != nil && hadPrev {
				// This op's own rollback does not run when it fails, so put
				// the previous password back here.
				_ = client.UpdateUserPassword(ctx, user, prevPassword)
			}
			return nil, err
		},
		func(ctx context.Context, _ any) error {
			if !hadPrev {
				return nil
			}
			var errs []error
			if err := client.UpdateUserPassword(ctx, user, prevPassword); err != nil {
				errs = append(errs, err)
			}
			if s.configs != nil {
				if err := s.configs.Update(ctx, dbPasswordConfigKey, tenant, prevPassword, true); err != nil {
					errs = append(errs, err)
				}
			}
			return joinErrors(errs)
		},
	)

	if _, err := t.Execute(ctx); err != nil {
		return nil, errfmt.Wrap(errfmt.KindOperation, "reset_password failed", err)
	}

	return &domain.ProvisioningSummary{Username: user, Password: newPassword}, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return errors.New(strings.Join(parts, "; "))
}

// generatePassword produces a random password meeting the policy
// (length ≥ 12, mixed case, digit, symbol): one character is drawn from
// each required class up front, the rest from the full charset, then the
// whole thing is shuffled so the required classes aren't positionally
// predictable.
func generatePassword() (string, error) {
	buf := make([]byte, passwordLength)
	classes := []string{passwordUpper, passwordLower, passwordDigits, passwordSymbols}
	for i, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := len(classes); i < passwordLength; i++ {
		c, err := randomChar(passwordCharset)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	if err := shuffleBytes(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, err
	}
	return charset[n.Int64()], nil
}

func shuffleBytes(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := n.Int64()
		buf[i], buf[j] = buf[j], buf[i]
	}
	return nil
}

// validatePasswordPolicy enforces the ≥12-char, mixed-case, digit, symbol
// policy spec'd for generated tenant database passwords.
func validatePasswordPolicy(password string) error {
	if len(password) < minPasswordLength {
		return errfmt.New(errfmt.KindValidation, "password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case strings.ContainsRune(passwordUpper, r):
			hasUpper = true
		case strings.ContainsRune(passwordLower, r):
			hasLower = true
		case strings.ContainsRune(passwordDigits, r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return errfmt.New(errfmt.KindValidation, "password must mix upper case, lower case, digit and symbol")
	}
	return nil
}
