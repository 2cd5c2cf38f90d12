// Package identity validates Brazilian CPF numbers locally so malformed
// input never reaches the external scheduling directory.
package identity

import "strings"

// NormalizeCPF strips punctuation and whitespace, keeping digits only.
func NormalizeCPF(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}

// ValidCPF reports whether the input carries eleven digits with correct
// check digits. Accepts formatted ("123.456.789-09") and bare input.
func ValidCPF(raw string) bool {
	cpf := NormalizeCPF(raw)
	if len(cpf) != 11 {
		return false
	}

	// Sequences like 000.000.000-00 satisfy the check-digit rule but are
	// not assignable CPFs.
	allSame := true
	for i := 1; i < len(cpf); i++ {
		if cpf[i] != cpf[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}

	return checkDigit(cpf, 9) == int(cpf[9]-'0') && checkDigit(cpf, 10) == int(cpf[10]-'0')
}

// checkDigit computes the verification digit over the first n digits
// using the standard weighted modulus-11 rule.
func checkDigit(cpf string, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(cpf[i]-'0') * (n + 1 - i)
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		return 0
	}
	return rest
}
