package jwks_testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Keypair struct {
	Kid     string
	Private *rsa.PrivateKey
}

func GenerateRSAKeypair(kid string) (Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Kid: kid, Private: priv}, nil
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// MarshalJWKS renders the public halves of keys as a JWKS document.
func MarshalJWKS(keys []Keypair) ([]byte, error) {
	out := struct {
		Keys []JWK `json:"keys"`
	}{Keys: make([]JWK, 0, len(keys))}
	for _, kp := range keys {
		pub := kp.Private.PublicKey
		out.Keys = append(out.Keys, JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: kp.Kid,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			// e is a big-endian unsigned int.
			E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return json.Marshal(out)
}

// NewRotatingJWKSServer returns a JWKS server whose key set can be swapped at runtime.
//
// Use SetKeys to rotate keys.
func NewRotatingJWKSServer() (*httptest.Server, func(keys []Keypair)) {
	var jwksJSON atomic.Value // string
	jwksJSON.Store(`{"keys":[]}`)

	setKeys := func(keys []Keypair) {
		b, _ := MarshalJWKS(keys)
		jwksJSON.Store(string(b))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jwksJSON.Load().(string)))
	}))

	return srv, setKeys
}

func claimsFor(iss string, aud any, sub string, now time.Time, expDelta time.Duration, nbfDelta *time.Duration) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": iss,
		"aud": aud,
		"sub": sub,
		"exp": now.Add(expDelta).Unix(),
	}
	if nbfDelta != nil {
		claims["nbf"] = now.Add(*nbfDelta).Unix()
	}
	return claims
}

// MintRS256JWT creates a signed JWT using RS256 with the given keypair.
//
// aud may be either a string or []string.
func MintRS256JWT(kp Keypair, iss string, aud any, sub string, now time.Time, expDelta time.Duration, nbfDelta *time.Duration) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claimsFor(iss, aud, sub, now, expDelta, nbfDelta))
	tok.Header["kid"] = kp.Kid
	return tok.SignedString(kp.Private)
}

// MintHS256JWT creates a JWT signed with a shared secret.
func MintHS256JWT(secret []byte, iss string, aud any, sub string, now time.Time, expDelta time.Duration) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor(iss, aud, sub, now, expDelta, nil))
	return tok.SignedString(secret)
}
