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

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"agentswitchboard/internal/model"
)

type stubStore struct {
	orgs map[string]*model.Organisation
	err  error
}

func (s *stubStore) OrganisationByToken(ctx context.Context, token string) (*model.Organisation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.orgs[token], nil
}

func TestAuthenticateKnownToken(t *testing.T) {
	store := &stubStore{orgs: map[string]*model.Organisation{"tok-1": {OrgID: "org-1", IsActive: true}}}
	a := New(store, "")

	org, err := a.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "org-1", org.OrgID)
}

func TestAuthenticateUnknownTokenIsUnauthorized(t *testing.T) {
	store := &stubStore{orgs: map[string]*model.Organisation{}}
	a := New(store, "")

	_, err := a.Authenticate(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateEmptyTokenIsUnauthorized(t *testing.T) {
	a := New(&stubStore{}, "")
	_, err := a.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateStoreErrorPropagates(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	a := New(store, "")
	_, err := a.Authenticate(context.Background(), "tok-1")
	require.Error(t, err)
}

func TestDecodeAgentTokenWithoutSecretConfigured(t *testing.T) {
	a := New(&stubStore{}, "")
	_, err := a.DecodeAgentToken("anything")
	require.Error(t, err)
}

func TestDecodeAgentTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	claims := jwt.MapClaims{"agent_id": "agent-1", "framework": "langchain"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	a := New(&stubStore{}, secret)
	decoded, err := a.DecodeAgentToken(signed)
	require.NoError(t, err)
	require.Equal(t, "agent-1", decoded.AgentID)
	require.Equal(t, "langchain", decoded.Framework)
}

func TestDecodeAgentTokenWrongSecretFails(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"agent_id": "a"})
	signed, err := token.SignedString([]byte("right-secret"))
	require.NoError(t, err)

	a := New(&stubStore{}, "wrong-secret")
	_, err = a.DecodeAgentToken(signed)
	require.Error(t, err)
}

func TestDecodeAgentTokenEmptyStringFails(t *testing.T) {
	a := New(&stubStore{}, "secret")
	_, err := a.DecodeAgentToken("")
	require.Error(t, err)
}
