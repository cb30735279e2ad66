package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CardFields is raw card input. It only lives in the processing task and is
// never persisted; the payment keeps last4, brand and expiry.
type CardFields struct {
	Number   string `json:"card_number"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	CVC      string `json:"cvc"`
}

// Last4 returns the last four digits of the card number.
func (c CardFields) Last4() string {
	n := digitsOnly(c.Number)
	if len(n) <= 4 {
		return n
	}
	return n[len(n)-4:]
}

// CardDecline is a deterministic rejection with a stable reason code.
type CardDecline struct {
	Reason  string
	Message string
}

type CardAuthorization struct {
	Approved bool
	Decline  *CardDecline
	Last4    string
	Brand    string
}

var cardOutcomes = map[string]CardDecline{
	"4000000000000002": {Reason: "card_declined", Message: "Your card was declined"},
	"4000000000009995": {Reason: "insufficient_funds", Message: "Your card has insufficient funds"},
	"4000000000000069": {Reason: "expired_card", Message: "Your card has expired"},
	"4000000000000127": {Reason: "incorrect_cvc", Message: "Your card's security code is incorrect"},
	"4000000000000119": {Reason: "processing_error", Message: "An error occurred while processing your card"},
}

var (
	cvcPattern        = regexp.MustCompile(`^\d{3,4}$`)
	mastercardPattern = regexp.MustCompile(`^5[1-5]`)
	amexPattern       = regexp.MustCompile(`^3[47]`)
)

// CardSimulator stands in for a card network: Luhn/expiry/CVC checks and a
// fixed outcome table keyed by card number. Unknown numbers are approved.
type CardSimulator struct {
	Now     func() time.Time
	Latency time.Duration
}

func NewCardSimulator(latency time.Duration) *CardSimulator {
	return &CardSimulator{Now: time.Now, Latency: latency}
}

// Validate returns nil when the card passes local checks.
func (s *CardSimulator) Validate(card CardFields) *CardDecline {
	switch {
	case strings.TrimSpace(card.Number) == "":
		return &CardDecline{Reason: "missing_card_field", Message: "Missing required field: card_number"}
	case strings.TrimSpace(card.ExpMonth) == "":
		return &CardDecline{Reason: "missing_card_field", Message: "Missing required field: exp_month"}
	case strings.TrimSpace(card.ExpYear) == "":
		return &CardDecline{Reason: "missing_card_field", Message: "Missing required field: exp_year"}
	case strings.TrimSpace(card.CVC) == "":
		return &CardDecline{Reason: "missing_card_field", Message: "Missing required field: cvc"}
	}

	if !luhnValid(card.Number) {
		return &CardDecline{Reason: "invalid_card_number", Message: "Invalid card number"}
	}
	if !s.expiryValid(card.ExpMonth, card.ExpYear) {
		return &CardDecline{Reason: "invalid_expiry", Message: "Card has expired"}
	}
	if !cvcPattern.MatchString(card.CVC) {
		return &CardDecline{Reason: "invalid_cvc", Message: "Invalid CVC"}
	}
	return nil
}

// Authorize waits out the simulated provider latency and maps the number
// through the outcome table. Only ctx cancellation returns an error.
func (s *CardSimulator) Authorize(ctx context.Context, card CardFields) (CardAuthorization, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return CardAuthorization{}, ctx.Err()
		case <-timer.C:
		}
	}

	number := digitsOnly(card.Number)
	auth := CardAuthorization{
		Approved: true,
		Last4:    card.Last4(),
		Brand:    CardBrand(number),
	}
	if decline, ok := cardOutcomes[number]; ok {
		auth.Approved = false
		auth.Decline = &decline
	}
	return auth, nil
}

// CardBrand detects the network from the leading digits.
func CardBrand(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case mastercardPattern.MatchString(number):
		return "mastercard"
	case amexPattern.MatchString(number):
		return "amex"
	}
	return "unknown"
}

func (s *CardSimulator) expiryValid(month, year string) bool {
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m < 1 || m > 12 {
		return false
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y < 0 {
		return false
	}
	if y < 100 {
		y += 2000
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	if y != t.Year() {
		return y > t.Year()
	}
	return m >= int(t.Month())
}

func luhnValid(number string) bool {
	digits := digitsOnly(number)
	if len(digits) < 12 || len(digits) > 19 || len(digits) != len(strings.ReplaceAll(number, " ", "")) {
		return false
	}
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
