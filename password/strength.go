package password

import (
	"fmt"
	"strings"
	"unicode"
)

// SpecialCharacters is the set that satisfies the special-character rule.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

// Policy is the signup strength rule set.
type Policy struct {
	MinLength      int  `koanf:"min_length"`
	RequireUpper   bool `koanf:"require_upper"`
	RequireLower   bool `koanf:"require_lower"`
	RequireDigit   bool `koanf:"require_digit"`
	RequireSpecial bool `koanf:"require_special"`
}

// DefaultPolicy requires 12 characters drawn from all four classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      minPassBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Check returns one message per violated rule, or nil.
func (p Policy) Check(password string) []string {
	var problems []string

	if len([]rune(password)) < p.MinLength {
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	if p.RequireUpper && !upper {
		problems = append(problems, "Password must contain at least one uppercase letter")
	}
	if p.RequireLower && !lower {
		problems = append(problems, "Password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !digit {
		problems = append(problems, "Password must contain at least one digit")
	}
	if p.RequireSpecial && !special {
		problems = append(problems, "Password must contain at least one special character ("+SpecialCharacters+")")
	}

	return problems
}
