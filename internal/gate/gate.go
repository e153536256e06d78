// Package gate holds the per-step checks that decide whether the interview
// may move forward. Gates are pure: they read the answers and the photo
// count and never change either.
package gate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/record"
)

// emailRegex is the loose local@domain.tld shape, no whitespace anywhere.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Input is what a gate gets to look at.
type Input struct {
	Answers    record.Answers
	PhotoCount int
}

// Gate returns nil when the input may pass, or a VALIDATION error whose
// message tells the person what to fix.
type Gate func(in Input) error

// Rules carries the configurable thresholds.
type Rules struct {
	MinPhoneDigits int
	MinPhotos      int

	// EnforcePhotoStepExit makes the photo step itself require MinPhotos.
	EnforcePhotoStepExit bool
}

// Identity requires a name, a phone with enough digits and an email-shaped string.
func (r Rules) Identity(in Input) error {
	a := in.Answers
	if strings.TrimSpace(a.FullName) == "" {
		return errors.NewValidation(string(record.FieldFullName), "Please add your name so we know who this consultation is for.")
	}
	if strings.TrimSpace(a.Phone) == "" {
		return errors.NewValidation(string(record.FieldPhone), "Please add a phone number so we can reach you if needed.")
	}
	if DigitCount(a.Phone) < r.MinPhoneDigits {
		return errors.NewValidation(string(record.FieldPhone), "That phone number looks a little short. Can you double-check it?")
	}
	if strings.TrimSpace(a.Email) == "" {
		return errors.NewValidation(string(record.FieldEmail), "Please add an email so we can follow up.")
	}
	if !IsEmailish(a.Email) {
		return errors.NewValidation(string(record.FieldEmail), "That email looks a little off. Can you double-check it?")
	}
	return nil
}

// Services requires at least one chosen service.
func (r Rules) Services(in Input) error {
	for _, s := range in.Answers.Services {
		if strings.TrimSpace(s) != "" {
			return nil
		}
	}
	return errors.NewValidation(string(record.FieldServices), "Please pick the service you're interested in.")
}

// Photos requires at least MinPhotos selected photos.
func (r Rules) Photos(in Input) error {
	if need := max(1, r.MinPhotos); in.PhotoCount < need {
		return errors.NewValidation("photos", photosMessage(need))
	}
	return nil
}

func photosMessage(n int) string {
	if n == 1 {
		return "Please add at least one photo of your current hair."
	}
	return fmt.Sprintf("Please add at least %d photos of your current hair.", n)
}

// PhotoStep is the gate for leaving the photo step. It only enforces the
// minimum when EnforcePhotoStepExit is set; otherwise submission catches it.
func (r Rules) PhotoStep(in Input) error {
	if !r.EnforcePhotoStepExit {
		return nil
	}
	return r.Photos(in)
}

// Submission is checked again right before anything is sent.
func (r Rules) Submission(in Input) error {
	if err := r.Identity(in); err != nil {
		return err
	}
	return r.Photos(in)
}

// IsEmailish reports whether s looks like local@domain.tld with no whitespace.
func IsEmailish(s string) bool {
	return emailRegex.MatchString(strings.TrimSpace(s))
}

// DigitCount counts the decimal digits in s.
func DigitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
