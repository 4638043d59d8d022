// Package identity resolves engagement credentials to wire-ready auth
// headers. The store keeps only env variable names from the contract;
// secret values are read from the environment at access time and never
// retained.
package identity

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// Store maps contract credentials to identities. List order follows the
// contract.
type Store struct {
	creds  []contract.Credential
	byID   map[string]contract.Credential
	logger *slog.Logger
	now    func() time.Time
}

var _ outbound.IdentityStore = (*Store)(nil)

// NewStore indexes the contract's credential list. Duplicate ids keep
// the first entry and log the collision.
func NewStore(creds []contract.Credential, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		byID:   make(map[string]contract.Credential, len(creds)),
		logger: logger.With("component", "identity"),
		now:    time.Now,
	}
	for _, c := range creds {
		if _, dup := s.byID[c.ID]; dup {
			s.logger.Warn("duplicate credential id in contract", "identity_id", c.ID)
			continue
		}
		s.byID[c.ID] = c
		s.creds = append(s.creds, c)
	}
	return s
}

func (s *Store) List() []outbound.Identity {
	out := make([]outbound.Identity, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, identityOf(c))
	}
	return out
}

func (s *Store) Get(id string) (outbound.Identity, error) {
	c, ok := s.byID[id]
	if !ok {
		return outbound.Identity{}, fmt.Errorf("%q: %w", id, outbound.ErrIdentityNotFound)
	}
	return identityOf(c), nil
}

// AuthHeaders materializes one identity's headers from the environment.
func (s *Store) AuthHeaders(id string) (map[string]string, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, outbound.ErrIdentityNotFound)
	}

	switch c.Type {
	case contract.CredentialBearer, contract.CredentialOAuth2:
		token, err := s.secret(c.ID, c.TokenEnv, "token_env")
		if err != nil {
			return nil, err
		}
		s.peekExpiry(c.ID, token)
		return map[string]string{"Authorization": "Bearer " + token}, nil

	case contract.CredentialBasic:
		user, err := s.secret(c.ID, c.UsernameEnv, "username_env")
		if err != nil {
			return nil, err
		}
		pass, err := s.secret(c.ID, c.PasswordEnv, "password_env")
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return map[string]string{"Authorization": "Basic " + enc}, nil

	case contract.CredentialAPIKey:
		key, err := s.secret(c.ID, c.TokenEnv, "token_env")
		if err != nil {
			return nil, err
		}
		header := c.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		return map[string]string{header: key}, nil

	case contract.CredentialCustom:
		headers := map[string]string{}
		if c.CookieEnv != "" {
			cookie, err := s.secret(c.ID, c.CookieEnv, "cookie_env")
			if err != nil {
				return nil, err
			}
			headers["Cookie"] = cookie
		}
		if c.HeaderName != "" {
			value, err := s.secret(c.ID, c.TokenEnv, "token_env")
			if err != nil {
				return nil, err
			}
			headers[c.HeaderName] = value
		}
		if len(headers) == 0 {
			return nil, fmt.Errorf("credential %q: custom type needs header_name or cookie_env", c.ID)
		}
		return headers, nil

	default:
		return nil, fmt.Errorf("credential %q: unsupported type %q", c.ID, c.Type)
	}
}

// secret reads one env-referenced value. Unset names and empty values
// are both configuration errors, named precisely so the operator can fix
// the contract or the environment.
func (s *Store) secret(id, envName, field string) (string, error) {
	if envName == "" {
		return "", fmt.Errorf("credential %q: %s is not set in the contract", id, field)
	}
	v := os.Getenv(envName)
	if v == "" {
		return "", fmt.Errorf("credential %q: environment variable %s is empty", id, envName)
	}
	return v, nil
}

// peekExpiry decodes JWT-shaped bearer tokens without verifying the
// signature and warns when the exp claim is in the past. Tokens that do
// not decode are left alone; the target is the authority on validity.
func (s *Store) peekExpiry(id, token string) {
	if strings.Count(token, ".") != 2 {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		s.logger.Debug("bearer token is not a decodable JWT", "identity_id", id, "error", err)
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(s.now()) {
		s.logger.Warn("bearer token is expired",
			"identity_id", id, "expired_at", exp.Time.UTC().Format(time.RFC3339))
	}
}

func identityOf(c contract.Credential) outbound.Identity {
	return outbound.Identity{ID: c.ID, Type: string(c.Type), Scope: c.Scope}
}
