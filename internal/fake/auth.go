package fake

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

const (
	issuer     = "live-harness-fake"
	claimsKey  = "claims"
	tokenTTL   = 24 * time.Hour
	tokenField = "PRIVATE-TOKEN"
)

// Claims identify the caller of the fake. Role decides what the caller may
// do on every project.
type Claims struct {
	Username string    `json:"username"`
	Role     glab.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccessLevel maps the role onto a GitLab project access level. Root and
// admin get owner access and bypass every check.
func (c *Claims) AccessLevel() int {
	switch c.Role {
	case glab.RoleRoot, glab.RoleAdmin:
		return models.AccessOwner
	case glab.RoleMaintainer:
		return models.AccessMaintainer
	case glab.RoleDeveloper:
		return models.AccessDeveloper
	case glab.RoleReporter:
		return models.AccessReporter
	default:
		return models.AccessNone
	}
}

func (c *Claims) IsAdmin() bool {
	return c.Role == glab.RoleRoot || c.Role == glab.RoleAdmin
}

// Issuer signs and verifies role tokens with a shared HS256 key.
type Issuer struct {
	key []byte
	now func() time.Time
}

func NewIssuer(signingKey string) *Issuer {
	return &Issuer{key: []byte(signingKey), now: time.Now}
}

// Token issues a token for username acting as role.
func (i *Issuer) Token(username string, role glab.Role) (string, error) {
	now := i.now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// Parse verifies token and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if _, err := glab.ParseRole(string(claims.Role)); err != nil {
		return nil, err
	}
	return claims, nil
}

// Credentials issues one token per role. The default token belongs to root.
func (i *Issuer) Credentials(url, host string) (glab.Credentials, error) {
	tokens := make(map[glab.Role]string, len(glab.Roles))
	for _, role := range glab.Roles {
		t, err := i.Token(usernameFor(role), role)
		if err != nil {
			return glab.Credentials{}, fmt.Errorf("issuing %s token: %w", role, err)
		}
		tokens[role] = t
	}

	return glab.Credentials{
		URL:             url,
		Host:            host,
		Token:           tokens[glab.RoleRoot],
		RootToken:       tokens[glab.RoleRoot],
		MaintainerToken: tokens[glab.RoleMaintainer],
		DeveloperToken:  tokens[glab.RoleDeveloper],
		ReporterToken:   tokens[glab.RoleReporter],
	}, nil
}

func usernameFor(role glab.Role) string {
	if role == glab.RoleRoot || role == glab.RoleAdmin {
		return "root"
	}
	return "test-" + string(role)
}

func bearer(r *http.Request) string {
	if t := r.Header.Get(tokenField); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return t
	}
	return ""
}

// Authenticate rejects requests without a valid role token.
func Authenticate(i *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.Request)
		if token == "" {
			abort(c, http.StatusUnauthorized, "401 Unauthorized")
			return
		}
		claims, err := i.Parse(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "401 Unauthorized")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Require lets the request through when the caller has at least level.
func Require(level int) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := caller(c)
		if err != nil {
			abort(c, http.StatusUnauthorized, "401 Unauthorized")
			return
		}
		if !claims.IsAdmin() && claims.AccessLevel() < level {
			abort(c, http.StatusForbidden, "403 Forbidden")
			return
		}
		c.Next()
	}
}

var errNoCaller = errors.New("request is not authenticated")

func caller(c *gin.Context) (*Claims, error) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, errNoCaller
	}
	claims, ok := v.(*Claims)
	if !ok {
		return nil, errNoCaller
	}
	return claims, nil
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}
