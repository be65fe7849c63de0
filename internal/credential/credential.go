package credential // package credential issues and parses the signed access tokens handed out after verification

import (
    "errors"
    "net/http"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// CookieName is the cookie that carries the credential for browser callers.
const CookieName = "auth_token"

// ErrInvalidToken is returned by Parse for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims asserts a user identity and the channel that verified it.  The
// registered claims carry subject, issuer, audience, expiry and issued-at.
type Claims struct {
    Channel string `json:"channel"`
    jwt.RegisteredClaims
}

// Token is a signed credential along with its expiry.
type Token struct {
    Value string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// Options holds the process-wide signing configuration.  It is loaded once at
// startup; issuance performs no I/O beyond signing.
type Options struct {
    Secret       string
    Issuer       string
    Audience     string
    TTL          time.Duration
    SecureCookie bool
}

// Issuer signs and verifies HS256 credentials.
type Issuer struct {
    key          []byte
    issuer       string
    audience     string
    ttl          time.Duration
    secureCookie bool
}

// NewIssuer returns an Issuer.  An empty secret is a deployment fault.
func NewIssuer(opts Options) (*Issuer, error) {
    if opts.Secret == "" {
        return nil, errors.New("credential: empty signing secret")
    }
    if opts.TTL <= 0 {
        opts.TTL = 7 * 24 * time.Hour
    }
    return &Issuer{
        key:          []byte(opts.Secret),
        issuer:       opts.Issuer,
        audience:     opts.Audience,
        ttl:          opts.TTL,
        secureCookie: opts.SecureCookie,
    }, nil
}

// TTL returns the lifetime applied to issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue builds and signs a token asserting {sub = userID, channel}.
func (i *Issuer) Issue(userID, channel string, now time.Time) (Token, error) {
    now = now.UTC()
    exp := now.Add(i.ttl)
    claims := Claims{
        Channel: channel,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   userID,
            Issuer:    i.issuer,
            Audience:  jwt.ClaimStrings{i.audience},
            ExpiresAt: jwt.NewNumericDate(exp),
            IssuedAt:  jwt.NewNumericDate(now),
        },
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString(i.key)
    if err != nil {
        return Token{}, err
    }
    return Token{Value: signed, Exp: exp}, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry relative
// to now.
func (i *Issuer) Parse(raw string, now time.Time) (Claims, error) {
    var claims Claims
    tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
        // Reject tokens signed with anything other than HMAC.
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, ErrInvalidToken
        }
        return i.key, nil
    },
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithIssuer(i.issuer),
        jwt.WithAudience(i.audience),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(func() time.Time { return now }),
    )
    if err != nil || !tok.Valid || claims.Subject == "" {
        return Claims{}, ErrInvalidToken
    }
    return claims, nil
}

// Cookie wraps tok in an http-only, same-site cookie whose max-age matches
// the token lifetime.
func (i *Issuer) Cookie(tok Token) *http.Cookie {
    return &http.Cookie{
        Name:     CookieName,
        Value:    tok.Value,
        Path:     "/",
        MaxAge:   int(i.ttl / time.Second),
        Expires:  tok.Exp,
        HttpOnly: true,
        Secure:   i.secureCookie,
        SameSite: http.SameSiteLaxMode,
    }
}
