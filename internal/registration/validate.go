package registration

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/containr/signup/internal/domain"
)

// MinPasswordLength is the shortest password accepted locally, in UTF-16
// code units as a browser counts them.
const MinPasswordLength = 8

// Validate checks a draft before any provider call is made. Fields are checked
// in form order so the first missing one is reported.
func Validate(d domain.Draft) error {
	required := []struct {
		field, label, value string
	}{
		{"username", "Username", d.Username},
		{"email", "Email", d.Email},
		{"password", "Password", d.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &domain.ValidationError{
				Field: r.field,
				Err:   domain.ErrMissingField,
				Msg:   r.label + " is required",
			}
		}
	}

	if passwordLength(d.Password) < MinPasswordLength {
		return &domain.ValidationError{
			Field: "password",
			Err:   domain.ErrPasswordTooShort,
			Msg:   fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength),
		}
	}
	return nil
}

// passwordLength counts UTF-16 code units, so a character outside the Basic
// Multilingual Plane counts twice.
func passwordLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func validateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", &domain.ValidationError{
			Field: "code",
			Err:   domain.ErrMissingCode,
			Msg:   "Please enter the verification code",
		}
	}
	return code, nil
}
