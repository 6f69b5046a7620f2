package domain

import "time"

// Policy is a tenant's password rule set. Tenant JSON is decoded onto DefaultPolicy, so absent keys keep
// their default values.
type Policy struct {
	MinLength        int  `json:"min_length" validate:"min=1,max=1024"`
	MaxLength        int  `json:"max_length" validate:"gtefield=MinLength,max=1024"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireNumbers   bool `json:"require_numbers"`
	RequireSymbols   bool `json:"require_symbols"`
	// HistoryCount is how many previous hashes are kept and checked for reuse.
	HistoryCount int `json:"history_count" validate:"min=0,max=24"`
	// ExpiryDays <= 0 means passwords never expire.
	ExpiryDays int `json:"expiry_days" validate:"min=0,max=3650"`
	// MaxConsecutive is the longest allowed run of one character; 0 disables the check.
	MaxConsecutive int  `json:"max_consecutive" validate:"min=0,max=64"`
	BanCommon      bool `json:"ban_common"`
	BanUserInfo    bool `json:"ban_user_info"`
}

// DefaultPolicy returns the system password policy.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:        8,
		MaxLength:        128,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSymbols:   false,
		HistoryCount:     5,
		ExpiryDays:       0,
		MaxConsecutive:   3,
		BanCommon:        true,
		BanUserInfo:      true,
	}
}

// HistoryEntry is a previously used password hash.
type HistoryEntry struct {
	ID           int64
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// Strength labels, strongest first.
const (
	LabelStrong   = "strong"
	LabelGood     = "good"
	LabelFair     = "fair"
	LabelWeak     = "weak"
	LabelVeryWeak = "very_weak"
)

// Strength is a heuristic 0-100 score with its label.
type Strength struct {
	Score int    `json:"score"`
	Label string `json:"label"`
}

// Result is the outcome of validating a candidate password. Errors holds one message per violated rule.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Strength Strength `json:"strength"`
}
