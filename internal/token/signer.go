// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token mints and verifies the three token kinds: identity tokens,
// tenant access tokens and refresh tokens. HS256 and RS256 deployments are
// both supported; RS256 publishes its key at /.well-known/jwks.json.
package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWK represents a JSON Web Key (RFC 7517)
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS represents a JSON Web Key Set (RFC 7517)
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Signer signs and parses JWTs with a single active key. The kid is a
// stable SHA-256 thumbprint of the RSA modulus, so restarts with the same
// key keep the same kid.
type Signer struct {
	issuer    string
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	kid       string
}

// NewHS256Signer creates a shared-secret signer.
func NewHS256Signer(issuer string, secret []byte) *Signer {
	return &Signer{
		issuer:    issuer,
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
	}
}

// NewRS256Signer creates an asymmetric signer.
func NewRS256Signer(issuer string, key *rsa.PrivateKey) *Signer {
	hash := sha256.Sum256(key.PublicKey.N.Bytes())
	return &Signer{
		issuer:    issuer,
		method:    jwt.SigningMethodRS256,
		signKey:   key,
		verifyKey: &key.PublicKey,
		kid:       base64.RawURLEncoding.EncodeToString(hash[:16]),
	}
}

// NewSignerFromConfig selects RS256 when a private key PEM is configured,
// HS256 otherwise.
func NewSignerFromConfig(issuer, signingKey, privateKeyPEM string) (*Signer, error) {
	if privateKeyPEM != "" {
		key, err := parseRSAPrivateKey(privateKeyPEM)
		if err != nil {
			return nil, err
		}
		return NewRS256Signer(issuer, key), nil
	}
	if signingKey == "" {
		return nil, fmt.Errorf("no signing key configured")
	}
	return NewHS256Signer(issuer, []byte(signingKey)), nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// Issuer returns the configured iss value.
func (s *Signer) Issuer() string {
	return s.issuer
}

// Algorithm returns the JWS alg name of the active key.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Sign signs claims with the active key, stamping kid for RS256.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		tok.Header["kid"] = s.kid
	}
	return tok.SignedString(s.signKey)
}

// Parse verifies a token's signature and registered claims, decoding into
// claims. Verification selects by alg and, for RS256, by kid.
func (s *Signer) Parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		if s.kid != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != "" && kid != s.kid {
				return nil, fmt.Errorf("unknown kid %s", kid)
			}
		}
		return s.verifyKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	return err
}

// JWKS exports the public key set. HS256 deployments publish an empty set.
func (s *Signer) JWKS() JWKS {
	pub, ok := s.verifyKey.(*rsa.PublicKey)
	if !ok {
		return JWKS{Keys: []JWK{}}
	}
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: s.kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(intToBytes(pub.E)),
	}}}
}

func intToBytes(n int) []byte {
	if n == 0 {
		return []byte{0}
	}
	var out []byte
	for n > 0 {
		out = append([]byte{byte(n & 0xff)}, out...)
		n >>= 8
	}
	return out
}
