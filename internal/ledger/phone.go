package ledger

import (
	"regexp"
	"strings"
)

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	ugandaPhone     = regexp.MustCompile(`^(?:\+?256|0)?([0-9]{9})$`)
)

// normalizePhone accepts a Ugandan mobile number as +256XXXXXXXXX,
// 256XXXXXXXXX, 0XXXXXXXXX or XXXXXXXXX and returns it as 256XXXXXXXXX,
// the form mobile-money destinations are submitted in.
func normalizePhone(field, raw string) (string, error) {
	m := ugandaPhone.FindStringSubmatch(phoneSeparators.Replace(strings.TrimSpace(raw)))
	if m == nil {
		return "", invalid(field, "%q is not a Ugandan phone number", raw)
	}
	return "256" + m[1], nil
}
