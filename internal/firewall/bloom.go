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

package firewall

import "strings"

// piiMarkers is the small, fixed membership set the Bloom pre-filter tests
// against. Fails open: a negative membership skips the PII confirmation
// pass entirely; a positive membership only moves on to it.
var piiMarkers = []string{
	"@", "ssn:", "ssn ", "social security", "bearer ", "sk-",
	"akia", "credit card", "card number", "routing number",
	"passport", "date of birth", "dob:",
}

// bloomMightContainPII is a cheap pre-filter, not a true Bloom filter (the
// marker set is small enough that a direct substring scan is as fast and
// needs no hash table), kept under the same name the spec gives the stage.
func bloomMightContainPII(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range piiMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
