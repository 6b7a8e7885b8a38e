package privacy

import "strings"

const (
	maskChar = "X"

	redactedAddress = "[REDACTED_ADDRESS]"
	redactedGeneric = "[REDACTED_PII]"
)

// maskRule pairs a matcher with the format used to mask a value of its kind.
// fields are matched by name; match tests the value content. When
// requireBoth is set the rule only applies on a name match whose value also
// satisfies match.
type maskRule struct {
	kind        Kind
	fields      []string
	match       func(string) bool
	requireBoth bool
	mask        func(field, text string) string
}

func (r maskRule) byName(field, text string) bool {
	for _, f := range r.fields {
		if f == field {
			return !r.requireBoth || r.match(text)
		}
	}
	return false
}

func (r maskRule) byContent(text string) bool {
	return !r.requireBoth && r.match != nil && r.match(text)
}

// Masker turns a flagged field value into its redacted form
type Masker struct {
	rules []maskRule
}

// NewMasker builds the masking table on top of lib's recognizers
func NewMasker(lib *Library) *Masker {
	return &Masker{rules: []maskRule{
		{kind: KindPhone, fields: []string{"phone"}, match: lib.IsPhone, mask: keepEnds(2, 2, 10)},
		{kind: KindAadhar, fields: []string{"aadhar"}, match: lib.IsAadhar, mask: keepEnds(3, 3, 12)},
		{kind: KindPassport, fields: []string{"passport"}, match: lib.IsPassport, mask: keepEnds(1, 1, 3)},
		{kind: KindUPI, fields: []string{"upi_id"}, match: lib.IsUPI, mask: maskLocalPart},
		{kind: KindEmail, fields: []string{"email"}, match: lib.IsEmail, mask: maskLocalPart},
		{kind: KindFullName, fields: []string{"name"}, match: lib.IsFullName, requireBoth: true, mask: maskFullName},
		{kind: KindNamePart, fields: []string{"first_name", "last_name"}, mask: maskNamePart},
		{kind: KindAddress, fields: []string{"address"}, mask: fixed(redactedAddress)},
		{kind: KindDevice, fields: []string{"device_id", "ip_address"}, mask: fieldToken},
	}}
}

// Mask returns the redacted form of value for field. Null passes through.
func (m *Masker) Mask(field string, value Value) Value {
	if value.IsNull() {
		return value
	}
	masked, _ := m.MaskText(field, value.Text())
	return String(masked)
}

// MaskText masks the normalized text of a value and reports the kind whose
// format was applied. Name rules are tried before content rules.
func (m *Masker) MaskText(field, text string) (string, Kind) {
	for _, r := range m.rules {
		if r.byName(field, text) {
			return r.mask(field, text), r.kind
		}
	}
	for _, r := range m.rules {
		if r.byContent(text) {
			return r.mask(field, text), r.kind
		}
	}
	return redactedGeneric, KindGeneric
}

// keepEnds keeps head leading and tail trailing runes and masks the middle.
// Values shorter than minLen are masked entirely.
func keepEnds(head, tail, minLen int) func(string, string) string {
	return func(_, text string) string {
		r := []rune(text)
		if len(r) < minLen || len(r) < head+tail {
			return strings.Repeat(maskChar, len(r))
		}
		return string(r[:head]) + strings.Repeat(maskChar, len(r)-head-tail) + string(r[len(r)-tail:])
	}
}

// maskLocalPart masks the part before the single @ and keeps the domain or handle
func maskLocalPart(_, text string) string {
	parts := strings.Split(text, "@")
	if len(parts) != 2 {
		return strings.Repeat(maskChar, len([]rune(text)))
	}
	return keepEnds(1, 1, 3)("", parts[0]) + "@" + parts[1]
}

func maskFullName(_, text string) string {
	tokens := strings.Fields(text)
	for i, t := range tokens {
		tokens[i] = initial(t)
	}
	return strings.Join(tokens, " ")
}

func maskNamePart(_, text string) string {
	return initial(text)
}

// initial keeps the first rune and masks the rest; a value of at most one rune becomes X
func initial(s string) string {
	r := []rune(s)
	if len(r) <= 1 {
		return maskChar
	}
	return string(r[0]) + strings.Repeat(maskChar, len(r)-1)
}

func fixed(token string) func(string, string) string {
	return func(string, string) string { return token }
}

func fieldToken(field, _ string) string {
	return "[REDACTED_" + strings.ToUpper(field) + "]"
}
