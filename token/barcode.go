/*
barcode.go - 13-digit checksummed numeric codes (EAN-13) and UPC helpers

PURPOSE:
  Generates the barcode form of a redemption token: 12 content digits
  derived from the user id plus a time component, closed by an EAN-13
  check digit. Also provides the UPC-E -> UPC-A expansion the resolver
  uses for 8-digit scanner input.

CHECK DIGIT:
  Over the first 12 digits, 0-indexed even positions weigh x1 and odd
  positions weigh x3; the check digit is (10 - sum mod 10) mod 10.

CONTENT LAYOUT:
  digits 0-7:  per-character numeric hash of the user id
  digits 8-11: low 4 digits of the Unix issuance timestamp
  digit  12:   EAN-13 check digit
*/
package token

import "fmt"

// IssueBarcode derives the 13-digit barcode for a user at the codec's
// current time. Deterministic for a fixed user id and clock.
func (c *Codec) IssueBarcode(userID string) string {
	content := fmt.Sprintf("%08d%04d", userIDDigits(userID), c.now().Unix()%10000)
	return content + string(rune('0'+EAN13CheckDigit(content)))
}

// userIDDigits folds the user id into 8 decimal digits with a per-character
// polynomial hash.
func userIDDigits(userID string) int64 {
	var h int64
	for _, ch := range userID {
		h = (h*31 + int64(ch)) % 100000000
	}
	if h < 0 {
		h = -h
	}
	return h
}

// EAN13CheckDigit computes the check digit over the first 12 digits of
// content. Content must be at least 12 numeric characters; non-digits are
// treated as zero.
func EAN13CheckDigit(content string) int {
	sum := 0
	for i := 0; i < 12 && i < len(content); i++ {
		d := int(content[i] - '0')
		if d < 0 || d > 9 {
			d = 0
		}
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	return (10 - sum%10) % 10
}

// ValidEAN13 reports whether s is exactly 13 digits with a correct check
// digit.
func ValidEAN13(s string) bool {
	if len(s) != 13 || !AllDigits(s) {
		return false
	}
	return int(s[12]-'0') == EAN13CheckDigit(s[:12])
}

// AllDigits reports whether s is non-empty pure ASCII digits.
func AllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// UPC-E EXPANSION
// =============================================================================

// ExpandUPCE converts an 8-digit UPC-E code to its 12-digit UPC-A form
// using the standard expansion table keyed by the final data digit.
// Returns "" if the input is not 8 digits.
func ExpandUPCE(code string) string {
	if len(code) != 8 || !AllDigits(code) {
		return ""
	}
	system := code[0:1]
	d := code[1:7] // six data digits
	check := code[7:8]

	var body string
	switch d[5] {
	case '0', '1', '2':
		body = d[0:2] + string(d[5]) + "0000" + d[2:5]
	case '3':
		body = d[0:3] + "00000" + d[3:5]
	case '4':
		body = d[0:4] + "00000" + string(d[4])
	default: // 5-9
		body = d[0:5] + "0000" + string(d[5])
	}
	return system + body + check
}

// TrimVariants returns the digit-dropped variants of a 13-digit code, in
// the order the resolver tries them: as-is, drop last, drop first, drop
// both. Accommodates scanners that mis-report EAN-13 boundary digits.
func TrimVariants(code string) []string {
	if len(code) != 13 {
		return []string{code}
	}
	return []string{
		code,
		code[:12],
		code[1:],
		code[1:12],
	}
}
