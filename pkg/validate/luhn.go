package validate

import (
	"github.com/ShiraazMoollatjie/goluhn"
)

// IsLuhn reports whether s passes the Luhn checksum. Payout destination card
// numbers are rejected at the edge when they fail it.
func IsLuhn(s string) bool {
	err := goluhn.Validate(s)
	return err == nil
}
