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

package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/apperr"
)

// stateTTL bounds how long an issued state stays redeemable.
const stateTTL = 10 * time.Minute

// statePayload is the round-tripped authorization state. It travels through
// the IdP and back, so it is HMAC-signed: a caller cannot forge a state
// carrying an attacker-chosen redirect_uri.
type statePayload struct {
	RedirectURI   string `json:"redirect_uri"`
	ClientID      string `json:"client_id"`
	OriginalState string `json:"original_state,omitempty"`
	IssuedAt      int64  `json:"iat"`
}

// stateCodec signs and verifies state payloads.
type stateCodec struct {
	key []byte
}

func newStateCodec(key []byte) *stateCodec {
	return &stateCodec{key: key}
}

// Encode serialises and signs a payload as base64url(json) + "." +
// base64url(hmac).
func (c *stateCodec) Encode(p statePayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to encode state", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(data)
	return encoded + "." + c.sign(encoded), nil
}

// Decode verifies the signature and TTL before trusting the payload.
func (c *stateCodec) Decode(state string) (*statePayload, error) {
	encoded, sig, found := strings.Cut(state, ".")
	if !found {
		return nil, apperr.New(apperr.KindBadRequest, "malformed state")
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(sig)) {
		return nil, apperr.New(apperr.KindBadRequest, "state signature mismatch")
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.New(apperr.KindBadRequest, "malformed state")
	}
	var p statePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperr.New(apperr.KindBadRequest, "malformed state")
	}
	if time.Since(time.Unix(p.IssuedAt, 0)) > stateTTL {
		return nil, apperr.New(apperr.KindBadRequest, "state expired")
	}
	return &p, nil
}

func (c *stateCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
