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

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// piiPattern is one entry of the ordered PII confirmation list: the first
// match in a body denies the request, reason derived from Type.
type piiPattern struct {
	Type      string
	Pattern   *regexp.Regexp
	Validator func(match string) bool
}

// piiPatterns is deliberately ordered: email, SSN, credit card, phone,
// common API-key prefixes, AWS access keys, per the firewall's step 2.
var piiPatterns = []piiPattern{
	{
		Type:    "email",
		Pattern: regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
	},
	{
		Type:      "ssn",
		Pattern:   regexp.MustCompile(`\b(\d{3})[- ](\d{2})[- ](\d{4})\b`),
		Validator: validSSN,
	},
	{
		Type:      "credit_card",
		Pattern:   regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b|\b(?:\d{4}[- ]?){3}\d{4}\b`),
		Validator: validCreditCard,
	},
	{
		Type:    "phone",
		Pattern: regexp.MustCompile(`\b(?:\+?1[- .]?)?\(?\d{3}\)?[- .]?\d{3}[- .]?\d{4}\b`),
	},
	{
		Type:    "api_key",
		Pattern: regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}\b|\bBearer [a-zA-Z0-9._\-]{20,}\b`),
	},
	{
		Type:    "aws_access_key",
		Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	},
}

// detectPII returns the reason for the first PII pattern that matches and
// validates in body, or "" if none match.
func detectPII(body string) string {
	for _, p := range piiPatterns {
		match := p.Pattern.FindString(body)
		if match == "" {
			continue
		}
		if p.Validator != nil && !p.Validator(match) {
			continue
		}
		return p.Type
	}
	return ""
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// validSSN rejects structurally invalid area/group/serial components, the
// same gate the teacher's SSN validator applies before trusting a match.
func validSSN(match string) bool {
	clean := digitsOnly(match)
	if len(clean) != 9 {
		return false
	}
	area, _ := strconv.Atoi(clean[0:3])
	group, _ := strconv.Atoi(clean[3:5])
	serial, _ := strconv.Atoi(clean[5:9])
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	return group != 0 && serial != 0
}

// validCreditCard applies the Luhn checksum.
func validCreditCard(match string) bool {
	clean := digitsOnly(match)
	if len(clean) < 13 || len(clean) > 19 {
		return false
	}
	return luhnCheck(clean)
}

func luhnCheck(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		alternate = !alternate
	}
	return sum%10 == 0
}
