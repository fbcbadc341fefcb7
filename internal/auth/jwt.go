package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAPI  = "freshkeep-api"
	audienceLink = "freshkeep-telegram-link"

	LinkCodeTTL = 15 * time.Minute
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are carried by API bearer tokens. The subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens. API tokens are normally issued
// by the account service sharing the secret; Issue exists for the CLI and tests.
type JWTManager struct {
	secret []byte
	now    func() time.Time
}

func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secret: []byte(secret), now: time.Now}
}

// Issue returns an API token for userID valid for ttl.
func (j *JWTManager) Issue(userID int64, role string, ttl time.Duration) (string, error) {
	return j.sign(userID, role, audienceAPI, ttl)
}

// Verify checks an API token and returns the caller's identity.
func (j *JWTManager) Verify(token string) (AuthContext, error) {
	c, err := j.parse(token, audienceAPI)
	if err != nil {
		return AuthContext{}, err
	}
	return AuthContext{UserID: c.userID, Role: c.Role}, nil
}

// IssueLinkCode returns a short-lived code a user sends to the Telegram bot to
// link their chat.
func (j *JWTManager) IssueLinkCode(userID int64) (string, error) {
	return j.sign(userID, "", audienceLink, LinkCodeTTL)
}

// VerifyLinkCode returns the user id a link code was issued for.
func (j *JWTManager) VerifyLinkCode(code string) (int64, error) {
	c, err := j.parse(code, audienceLink)
	if err != nil {
		return 0, err
	}
	return c.userID, nil
}

func (j *JWTManager) sign(userID int64, role, audience string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type parsedClaims struct {
	*Claims
	userID int64
}

func (j *JWTManager) parse(token, audience string) (parsedClaims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return parsedClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return parsedClaims{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return parsedClaims{Claims: claims, userID: id}, nil
}
