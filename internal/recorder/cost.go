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

package recorder

// modelPrice is USD per token, input and output priced separately.
type modelPrice struct {
	input  float64
	output float64
}

var priceTable = map[string]modelPrice{
	"gpt-4":            {3e-5, 6e-5},
	"gpt-4-turbo":      {1e-5, 3e-5},
	"gpt-3.5-turbo":    {5e-7, 1.5e-6},
	"claude-3-opus":    {1.5e-5, 7.5e-5},
	"claude-3-sonnet":  {3e-6, 1.5e-5},
	"claude-3-haiku":   {2.5e-7, 1.25e-6},
}

const fallbackModel = "gpt-3.5-turbo"

// deriveCost prices a request/response pair from the fixed model table,
// falling back to gpt-3.5-turbo pricing for unrecognised models.
func deriveCost(modelName string, inputTokens, outputTokens int) float64 {
	price, ok := priceTable[modelName]
	if !ok {
		price = priceTable[fallbackModel]
	}
	return float64(inputTokens)*price.input + float64(outputTokens)*price.output
}
