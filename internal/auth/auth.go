// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth resolves the request's sole authentication input — an API
// token — to an organisation, with an optional JWT decode of a secondary
// agent-identity header.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"agentswitchboard/internal/model"
)

// ErrUnauthorized is returned when the token does not map to an active
// organisation.
var ErrUnauthorized = errors.New("unauthorized: unknown or inactive organisation token")

// Store is the organisation-lookup dependency.
type Store interface {
	OrganisationByToken(ctx context.Context, token string) (*model.Organisation, error)
}

// Authenticator resolves bearer tokens to organisations and optionally
// decodes an agent-identity JWT carried in X-Switchboard-Token.
type Authenticator struct {
	store     Store
	jwtSecret []byte
}

// New constructs an Authenticator. jwtSecret may be empty, in which case
// DecodeAgentToken always returns an error — the JWT path is optional.
func New(store Store, jwtSecret string) *Authenticator {
	return &Authenticator{store: store, jwtSecret: []byte(jwtSecret)}
}

// Authenticate resolves an API token to its organisation, failing closed
// on any lookup error or unknown/inactive token.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*model.Organisation, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	org, err := a.store.OrganisationByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("organisation lookup failed: %w", err)
	}
	if org == nil {
		return nil, ErrUnauthorized
	}
	return org, nil
}

// AgentClaims is the subset of an agent-identity JWT's claims this proxy
// cares about.
type AgentClaims struct {
	AgentID   string
	Framework string
}

// DecodeAgentToken decodes the optional X-Switchboard-Token bearer JWT.
// Any parse or signature failure is reported, never silently ignored —
// callers treat a decode failure as "no agent identity asserted", not as
// a fatal request error.
func (a *Authenticator) DecodeAgentToken(tokenString string) (*AgentClaims, error) {
	if len(a.jwtSecret) == 0 {
		return nil, errors.New("agent token decoding is not configured")
	}
	if tokenString == "" {
		return nil, errors.New("empty agent token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid agent token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid agent token claims")
	}

	return &AgentClaims{
		AgentID:   claimString(claims, "agent_id"),
		Framework: claimString(claims, "framework"),
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
