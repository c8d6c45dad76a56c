// Package devidp is a static identity provider for local development and the
// demo server. It verifies email/password pairs against bcrypt hashes and
// returns trusted claims for session creation.
package devidp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/minus-twelve/ledgerauth/types"
)

const ProviderName = "dev"

var (
	ErrInvalidCredentials = errors.New("devidp: invalid credentials")
	ErrInvalidUser        = errors.New("devidp: invalid user definition")
)

// User is a configured account. PasswordHash wins over Password when both are
// set.
type User struct {
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	DisplayName  string `yaml:"name"`
	Phone        string `yaml:"phone"`
}

type account struct {
	hash   []byte
	claims types.Claims
}

type Provider struct {
	accounts map[string]account
	// compared against for unknown emails so lookups take the same time
	dummy []byte
}

type Option func(*options)

type options struct {
	cost int
}

// WithCost sets the bcrypt cost used for plaintext passwords.
func WithCost(cost int) Option {
	return func(o *options) {
		o.cost = cost
	}
}

func New(users []User, opts ...Option) (*Provider, error) {
	o := options{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), o.cost)
	if err != nil {
		return nil, fmt.Errorf("devidp: hash: %w", err)
	}

	p := &Provider{
		accounts: make(map[string]account, len(users)),
		dummy:    dummy,
	}
	for _, u := range users {
		email := normalizeEmail(u.Email)
		if email == "" {
			return nil, fmt.Errorf("%w: email is required", ErrInvalidUser)
		}
		if _, dup := p.accounts[email]; dup {
			return nil, fmt.Errorf("%w: duplicate email %s", ErrInvalidUser, email)
		}

		hash := []byte(u.PasswordHash)
		if len(hash) == 0 {
			if u.Password == "" {
				return nil, fmt.Errorf("%w: %s has no password", ErrInvalidUser, email)
			}
			hash, err = bcrypt.GenerateFromPassword([]byte(u.Password), o.cost)
			if err != nil {
				return nil, fmt.Errorf("devidp: hash %s: %w", email, err)
			}
		}

		name := u.DisplayName
		if name == "" {
			name, _, _ = strings.Cut(email, "@")
		}

		p.accounts[email] = account{
			hash: hash,
			claims: types.Claims{
				UserID:      UserID(email),
				Email:       email,
				Phone:       u.Phone,
				DisplayName: name,
				Verified:    true,
				Provider:    ProviderName,
				LoginMethod: "email",
			},
		}
	}
	return p, nil
}

// Authenticate verifies the credentials and returns the user's claims.
func (p *Provider) Authenticate(_ context.Context, email, password string) (types.Claims, error) {
	acct, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
		return types.Claims{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return types.Claims{}, ErrInvalidCredentials
	}
	return acct.claims, nil
}

// Len returns the number of configured accounts.
func (p *Provider) Len() int {
	return len(p.accounts)
}

// UserID derives a stable user id from an email address.
func UserID(email string) string {
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+normalizeEmail(email)))
	return "user-" + hex.EncodeToString(u[:8])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
