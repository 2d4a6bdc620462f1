package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

const issuer = "tradedesk"

// MinSecretBytes is the shortest HS256 key accepted.
const MinSecretBytes = 32

var ErrInvalidToken = errors.New("auth: invalid token")

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret []byte, ttl time.Duration) (*Tokens, error) {
	if len(secret) < MinSecretBytes {
		return nil, xerrors.Newf("jwt secret must be at least %d bytes", MinSecretBytes)
	}
	if ttl <= 0 {
		return nil, xerrors.New("token ttl must be positive")
	}
	return &Tokens{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for p and returns it with its expiry.
func (t *Tokens) Issue(p Principal) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := tok.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "sign token")
	}
	return s, exp, nil
}

// Parse verifies raw and returns its principal. Every failure, including
// expiry and a wrong algorithm, is reported as ErrInvalidToken.
func (t *Tokens) Parse(raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Principal{}, xerrors.Wrap(ErrInvalidToken, tokenFailure(err))
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, xerrors.Wrap(ErrInvalidToken, "bad subject")
	}
	if c.Role == "" {
		return Principal{}, xerrors.Wrap(ErrInvalidToken, "missing role")
	}
	return Principal{UserID: id, Role: c.Role}, nil
}

// tokenFailure names the failure class for logs and metrics without echoing
// the token.
func tokenFailure(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	}
	return "rejected"
}
