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

package orchestrator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// UpstreamTargets is the set of base URLs the orchestrator forwards to,
// selected by the caller's Authorization prefix.
type UpstreamTargets struct {
	OpenAI    string
	Anthropic string
	Google    string
}

// SelectUpstream inspects the Authorization header and picks the upstream
// base URL: sk-ant- prefixed keys go to Anthropic, AIza-prefixed keys go
// to Google, everything else goes to the OpenAI-compatible base.
func SelectUpstream(targets UpstreamTargets, authHeader string) (provider, baseURL string) {
	switch {
	case strings.HasPrefix(authHeader, "sk-ant-"):
		return "anthropic", targets.Anthropic
	case strings.HasPrefix(authHeader, "AIza"):
		return "google", targets.Google
	default:
		return "openai", targets.OpenAI
	}
}

// hopByHopHeaders are never forwarded upstream nor copied back, per RFC
// 7230 section 6.1. The switchboard's own X-Switchboard-* headers are not
// listed here; forwardableHeader drops them by prefix.
var hopByHopHeaders = map[string]bool{
	"host":                true,
	"connection":          true,
	"content-length":      true,
	"transfer-encoding":   true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"upgrade":             true,
}

func forwardableHeader(name string) bool {
	lower := strings.ToLower(name)
	if hopByHopHeaders[lower] {
		return false
	}
	return !strings.HasPrefix(lower, "x-switchboard-")
}

// UpstreamResponse is the minimal shape the pipeline needs back from a
// forwarded call.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder performs the actual upstream HTTP call. The production
// implementation is httpForwarder; tests substitute a stub.
type Forwarder interface {
	Forward(ctx context.Context, method, url string, header http.Header, body []byte) (*UpstreamResponse, error)
}

// httpForwarder is the production Forwarder: a single shared client with
// no automatic retries, matching the orchestrator's never-retry contract.
type httpForwarder struct {
	client *http.Client
}

// NewHTTPForwarder constructs a Forwarder with the given upstream timeout.
func NewHTTPForwarder(timeout time.Duration) Forwarder {
	return &httpForwarder{client: &http.Client{Timeout: timeout}}
}

func (f *httpForwarder) Forward(ctx context.Context, method, url string, header http.Header, body []byte) (*UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		if !forwardableHeader(k) {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &UpstreamResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}
