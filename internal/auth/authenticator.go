package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
	RoleSeller Role = "vendedor"
)

// ParseRole accepts both the plain form ("admin") and the authority form
// ("ROLE_ADMIN") of a role.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, "role_")

	switch normalized {
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	case "vendedor", "seller":
		return RoleSeller, nil
	default:
		return "", ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("unknown role: "+value))
	}
}

func (r Role) IsElevated() bool {
	return r == RoleAdmin || r == RoleOwner
}

// DashboardPath is where a notification click lands for this role.
func (r Role) DashboardPath() string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleOwner:
		return "/owner"
	case RoleSeller:
		return "/vendedor"
	default:
		return "/"
	}
}

type Claims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	Role        string   `json:"role,omitempty"`
	Auth        string   `json:"auth,omitempty"`
}

// RoleClaim picks the role the same way the backend issues it: the first
// entry of roles, then authorities, then the scalar role or auth claims.
func (c Claims) RoleClaim() string {
	if len(c.Roles) > 0 {
		return c.Roles[0]
	}

	if len(c.Authorities) > 0 {
		return c.Authorities[0]
	}

	if c.Role != "" {
		return c.Role
	}

	return c.Auth
}

type Authentication struct {
	Subject string
	Role    Role
	Token   string
}

type Authenticator struct {
	secret    []byte
	jwtParser *jwt.Parser
	now       func() time.Time
}

// NewAuthenticator verifies HMAC signatures when secret is set. Without a
// secret the token is only decoded, since the backend owns verification.
func NewAuthenticator(secret string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)

	return &Authenticator{
		secret:    []byte(secret),
		jwtParser: jwtParser,
		now:       time.Now,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}

	return a.secret, nil
}

func (a *Authenticator) Authenticate(tokenString string) (*Authentication, error) {
	claims := Claims{}

	if len(a.secret) > 0 {
		_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
		}
	} else {
		_, _, err := a.jwtParser.ParseUnverified(tokenString, &claims)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
		}

		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(a.now()) {
			return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("token is expired"))
		}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	role, err := ParseRole(claims.RoleClaim())
	if err != nil {
		return nil, err
	}

	return &Authentication{
		Subject: subject,
		Role:    role,
		Token:   tokenString,
	}, nil
}
