package service

import (
	"crypto/rand"
	"crypto/subtle"
	"strings"
)

const (
	recoveryCodeCount  = 8
	recoveryCodeLength = 10
	recoveryAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// generateRecoveryCodes returns recoveryCodeCount random uppercase alphanumeric codes.
func generateRecoveryCodes() ([]string, error) {
	codes := make([]string, recoveryCodeCount)
	for i := range codes {
		c, err := randomCode(recoveryCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = c
	}
	return codes, nil
}

// randomCode draws n characters from recoveryAlphabet, rejecting bytes that would bias the result.
func randomCode(n int) (string, error) {
	limit := byte(256 - 256%len(recoveryAlphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit || len(out) == n {
				continue
			}
			out = append(out, recoveryAlphabet[int(b)%len(recoveryAlphabet)])
		}
	}
	return string(out), nil
}

func normalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// matchRecoveryCode returns the index of code in codes, comparing every entry in constant time, or -1.
func matchRecoveryCode(codes []string, code string) int {
	code = normalizeRecoveryCode(code)
	found := -1
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}
