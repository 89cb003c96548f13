package authstate

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

var ErrInvalidToken = xerrors.New("invalid session token")

// ErrTokenExpired is an otherwise valid token past its exp. It is an
// ErrInvalidToken; a refresh token may still renew the session.
var ErrTokenExpired = xerrors.Wrap(ErrInvalidToken, "token expired")

// TokenVerifier rejects tokens locally before the backend is asked.
type TokenVerifier interface {
	Verify(token string) error
}

type accessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 access tokens signed with the backend's secret:
// signature, a required exp, and type == "access".
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, xerrors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: secret, leeway: 5 * time.Second, now: time.Now}, nil
}

func (v *JWTVerifier) Verify(token string) error {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	if err != nil {
		return xerrors.Wrapf(ErrInvalidToken, "%v", err)
	}
	if claims.Type != "access" {
		return xerrors.Wrapf(ErrInvalidToken, "token type %q", claims.Type)
	}
	return nil
}
