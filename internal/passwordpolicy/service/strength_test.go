package service

import (
	"testing"

	"tenant-auth-policy/internal/passwordpolicy/domain"
)

func TestCalculateStrength(t *testing.T) {
	tests := []struct {
		password string
		score    int
		label    string
	}{
		{"", 0, domain.LabelVeryWeak},
		{"password", 0, domain.LabelVeryWeak},
		{"12345678", 0, domain.LabelVeryWeak},
		{"abcdefghijkl", 25, domain.LabelWeak},
		{"aaaBBB111", 50, domain.LabelFair},
		{"Abcdefgh1", 60, domain.LabelGood},
		{"Tr0ub4dor&Horse!", 100, domain.LabelStrong},
	}
	for _, tt := range tests {
		got := CalculateStrength(tt.password)
		if got.Score != tt.score || got.Label != tt.label {
			t.Errorf("CalculateStrength(%q) = %+v, want {%d %s}", tt.password, got, tt.score, tt.label)
		}
	}
}

func TestCalculateStrength_Monotonic(t *testing.T) {
	weaker := CalculateStrength("Password123")
	stronger := CalculateStrength("Password123!")
	if stronger.Score < weaker.Score {
		t.Errorf("adding a symbol lowered the score: %d < %d", stronger.Score, weaker.Score)
	}
	if a, b := CalculateStrength("aaaa"), CalculateStrength("aaaa"); a != b {
		t.Errorf("CalculateStrength not deterministic: %+v vs %+v", a, b)
	}
}

func TestIsCommonPassword(t *testing.T) {
	for _, p := range []string{"password", "PASSWORD", "Qwerty123", "letmein"} {
		if !IsCommonPassword(p) {
			t.Errorf("IsCommonPassword(%q) = false", p)
		}
	}
	if IsCommonPassword("v3ry-unl1kely-Passphrase") {
		t.Error("uncommon password reported as common")
	}
}

func TestLongestRun(t *testing.T) {
	for s, want := range map[string]int{"": 0, "a": 1, "abba": 2, "xaaay": 3, "zzzz": 4} {
		if got := longestRun(s); got != want {
			t.Errorf("longestRun(%q) = %d, want %d", s, got, want)
		}
	}
}
