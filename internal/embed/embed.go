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

// Package embed implements the semantic cache's Embedder dependency
// against an OpenAI-compatible embeddings endpoint. It is the one
// concrete satisfier of internal/cache.Embedder; a deployment that never
// sets an API key gets a client whose Ready() is always false, so the
// cache falls back to its KV exact-hash shortcut only.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls an OpenAI-compatible /v1/embeddings endpoint.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// New constructs a Client. If apiKey is empty, Ready reports false and
// Embed is never expected to be called.
func New(apiKey, model, endpoint string) *Client {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/embeddings"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Client{apiKey: apiKey, model: model, endpoint: endpoint, client: &http.Client{Timeout: 10 * time.Second}}
}

// Ready reports whether the client has credentials to call the endpoint.
func (c *Client) Ready() bool {
	return c.apiKey != ""
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("embedding client is not configured")
	}

	body, err := json.Marshal(embedRequest{Input: text, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings endpoint error: %s", result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embeddings endpoint returned no data")
	}
	return result.Data[0].Embedding, nil
}
