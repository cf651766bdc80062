package auth

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Leeway absorbs clock skew between the issuer and this service.
const Leeway = 30 * time.Second

// Claims are the registered claims plus the participant's role. Exp and Iat are Unix
// seconds; zero means unset.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Exp  int64  `json:"exp,omitempty"`
	Iat  int64  `json:"iat,omitempty"`
}

func numericDate(sec int64) *jwt.NumericDate {
	if sec == 0 {
		return nil
	}
	return jwt.NewNumericDate(time.Unix(sec, 0))
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) { return numericDate(c.Exp), nil }
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return numericDate(c.Iat), nil }
func (c Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c Claims) GetIssuer() (string, error)                   { return "", nil }
func (c Claims) GetSubject() (string, error)                  { return c.Sub, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

type Header struct {
	Alg string
	Kid string
}

// ParseHeader decodes the JOSE header without verifying anything.
func ParseHeader(token string) (*Header, error) {
	t, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, ErrInvalidToken
	}
	h := &Header{}
	h.Alg, _ = t.Header["alg"].(string)
	h.Kid, _ = t.Header["kid"].(string)
	return h, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SignRS256 signs claims with key, naming kid in the header when set.
func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		t.Header["kid"] = kid
	}
	return t.SignedString(key)
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return verify(token, jwt.SigningMethodHS256.Alg(), []byte(secret))
}

func VerifyRS256(token string, pubKey crypto.PublicKey) (*Claims, error) {
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}
	return verify(token, jwt.SigningMethodRS256.Alg(), rsaKey)
}

// verify pins the algorithm so a token cannot pick how it is checked, and requires a
// subject since every principal is keyed by it.
func verify(token, alg string, key any) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(Leeway),
	)
	if err != nil || c.Sub == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}
