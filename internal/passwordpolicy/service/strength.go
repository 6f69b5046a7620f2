package service

import (
	"unicode"

	"tenant-auth-policy/internal/passwordpolicy/domain"
)

// CalculateStrength scores password from 0 to 100. Length tiers and character classes add points; common
// passwords, repeated-character runs, and single-class passwords subtract them.
func CalculateStrength(password string) domain.Strength {
	score := 0
	n := len([]rune(password))
	if n >= 8 {
		score += 20
	}
	if n >= 12 {
		score += 10
	}
	if n >= 16 {
		score += 10
	}

	c := classify(password)
	if c.lower {
		score += 10
	}
	if c.upper {
		score += 15
	}
	if c.digit {
		score += 15
	}
	if c.symbol {
		score += 20
	}

	if IsCommonPassword(password) {
		score -= 40
	}
	if longestRun(password) >= 3 {
		score -= 10
	}
	if n > 0 && c.digit && !c.lower && !c.upper && !c.symbol {
		score -= 20
	}
	if n > 0 && (c.lower || c.upper) && !c.digit && !c.symbol {
		score -= 15
	}

	score = min(max(score, 0), 100)
	return domain.Strength{Score: score, Label: strengthLabel(score)}
}

func strengthLabel(score int) string {
	switch {
	case score >= 80:
		return domain.LabelStrong
	case score >= 60:
		return domain.LabelGood
	case score >= 40:
		return domain.LabelFair
	case score >= 20:
		return domain.LabelWeak
	default:
		return domain.LabelVeryWeak
	}
}

type classes struct {
	lower, upper, digit, symbol bool
}

func classify(s string) classes {
	var c classes
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= '0' && r <= '9':
			c.digit = true
		case unicode.IsSpace(r):
		default:
			c.symbol = true
		}
	}
	return c
}

// longestRun returns the length of the longest run of one repeated character.
func longestRun(s string) int {
	best, run := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		best = max(best, run)
	}
	return best
}
