package privacy

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind names a category of personal data
type Kind string

const (
	KindPhone    Kind = "phone"
	KindAadhar   Kind = "aadhar"
	KindPassport Kind = "passport"
	KindUPI      Kind = "upi_id"
	KindEmail    Kind = "email"
	KindFullName Kind = "full_name"
	KindNamePart Kind = "name_part"
	KindAddress  Kind = "address"
	KindDevice   Kind = "device"
	KindGeneric  Kind = "generic"
)

// DefaultUPIHandles are the payment-handle suffixes recognized after the @ of a UPI id
var DefaultUPIHandles = []string{
	"paytm", "ybl", "okaxis", "axisbank", "hdfcbank", "icici", "sbi", "kotak",
	"phonepe", "ibl", "unionbank", "canara", "pnb", "andhra", "federal",
	"karnataka", "punjab", "maharashtra", "axis", "indianbank", "yesbank",
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Library holds the recognizers for every PII kind. It is immutable once
// built and safe to share between goroutines.
type Library struct {
	phone    *regexp.Regexp
	aadhar   *regexp.Regexp
	passport *regexp.Regexp
	upi      *regexp.Regexp
	email    *regexp.Regexp
	fullName *regexp.Regexp

	digits  *regexp.Regexp
	pinCode *regexp.Regexp

	handles []string
}

var defaultLibrary = mustLibrary(DefaultUPIHandles)

// DefaultLibrary returns the shared library built with DefaultUPIHandles
func DefaultLibrary() *Library {
	return defaultLibrary
}

// NewLibrary builds a library recognizing the given UPI handles
func NewLibrary(upiHandles []string) (*Library, error) {
	handles := make([]string, 0, len(upiHandles))
	seen := make(map[string]bool, len(upiHandles))
	for _, h := range upiHandles {
		h = strings.TrimSpace(h)
		if !handlePattern.MatchString(h) {
			return nil, fmt.Errorf("invalid UPI handle: %q", h)
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("at least one UPI handle is required")
	}

	quoted := make([]string, len(handles))
	for i, h := range handles {
		quoted[i] = regexp.QuoteMeta(h)
	}

	return &Library{
		phone:    regexp.MustCompile(`^[6-9]\d{9}$`),
		aadhar:   regexp.MustCompile(`^\d{12}$`),
		passport: regexp.MustCompile(`^[A-Z]\d{7}$`),
		upi:      regexp.MustCompile(`^\w+@(?:` + strings.Join(quoted, "|") + `)$`),
		email:    regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`),
		fullName: regexp.MustCompile(`^[A-Z][a-z]+ [A-Z][a-z]+$`),
		digits:   regexp.MustCompile(`\d+`),
		pinCode:  regexp.MustCompile(`\b\d{6}\b`),
		handles:  handles,
	}, nil
}

func mustLibrary(upiHandles []string) *Library {
	lib, err := NewLibrary(upiHandles)
	if err != nil {
		panic(err)
	}
	return lib
}

// IsPhone matches a 10-digit mobile number starting with 6-9
func (l *Library) IsPhone(s string) bool { return l.phone.MatchString(s) }

// IsAadhar matches a 12-digit national id
func (l *Library) IsAadhar(s string) bool { return l.aadhar.MatchString(s) }

// IsPassport matches one uppercase letter followed by 7 digits
func (l *Library) IsPassport(s string) bool { return l.passport.MatchString(s) }

// IsUPI matches local@handle for a known payment handle
func (l *Library) IsUPI(s string) bool { return l.upi.MatchString(s) }

// IsEmail matches local@domain.tld
func (l *Library) IsEmail(s string) bool { return l.email.MatchString(s) }

// IsFullName matches exactly two capitalized alphabetic words
func (l *Library) IsFullName(s string) bool { return l.fullName.MatchString(s) }

// HasAddressComponents reports whether s contains a house number, a comma
// and a 6-digit postal code. The three checks are substring searches.
func (l *Library) HasAddressComponents(s string) bool {
	return l.digits.MatchString(s) &&
		strings.Contains(s, ",") &&
		l.pinCode.MatchString(s)
}

// Recognizer returns the value predicate for kind, if the kind has one
func (l *Library) Recognizer(kind Kind) (func(string) bool, bool) {
	switch kind {
	case KindPhone:
		return l.IsPhone, true
	case KindAadhar:
		return l.IsAadhar, true
	case KindPassport:
		return l.IsPassport, true
	case KindUPI:
		return l.IsUPI, true
	case KindEmail:
		return l.IsEmail, true
	case KindFullName:
		return l.IsFullName, true
	case KindAddress:
		return l.HasAddressComponents, true
	default:
		return nil, false
	}
}

// Handles returns a copy of the recognized UPI handles
func (l *Library) Handles() []string {
	out := make([]string, len(l.handles))
	copy(out, l.handles)
	return out
}
