package decision

import (
	"fmt"
	"regexp"
	"strings"
)

// Guard is the PCI boundary. It scans every string in the raw message for
// card-number-like digit sequences and enforces the configured card
// identifier policy. A false negative here is a compliance failure, so the
// pattern set errs toward over-matching.
type Guard struct {
	cardIDMode  CardIDMode
	tokenPrefix string
}

// CardIDMode selects the card identifier policy.
type CardIDMode string

const (
	ModeTokenOnly      CardIDMode = "TOKEN_ONLY"
	ModeTokenPlusLast4 CardIDMode = "TOKEN_PLUS_LAST4"
)

func NewGuard(cardIDMode CardIDMode) *Guard {
	return &Guard{
		cardIDMode:  cardIDMode,
		tokenPrefix: "tok_",
	}
}

const (
	minPANLength = 13
	maxPANLength = 19
)

// Digit runs of plausible PAN length, allowing space/dash formatting.
var panCandidateRe = regexp.MustCompile(`[0-9](?:[0-9 \-]*[0-9])?`)

// Issuer prefixes of the major card networks. Matched against the cleaned
// digit run in addition to the Luhn check.
var networkPrefixRes = []*regexp.Regexp{
	regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3})?$`),              // Visa
	regexp.MustCompile(`^(?:5[1-5][0-9]{2}|2[2-7][0-9]{2})[0-9]{12}$`), // Mastercard
	regexp.MustCompile(`^3[47][0-9]{13}$`),                       // Amex
	regexp.MustCompile(`^6(?:011|5[0-9]{2})[0-9]{12}$`),          // Discover
}

// Check scans the decoded message and the normalized event for raw PANs and
// applies the last-4 policy. On success it returns the event to store,
// possibly with the last-4 field stripped. The returned rejection never
// contains the matched value.
func (g *Guard) Check(ev *Event, scanned map[string]any) (*Event, error) {
	if path, found := g.scan(scanned, ""); found {
		return nil, NewRejection(RejectPANDetected, path, "card-number-like value detected")
	}

	out := *ev
	switch g.cardIDMode {
	case ModeTokenPlusLast4:
		if out.CardLast4 == nil || !last4Re.MatchString(*out.CardLast4) {
			return nil, NewRejection(RejectBadLast4, "transaction.card_last4", "a 4-digit card_last4 is required in TOKEN_PLUS_LAST4 mode")
		}
	default:
		// TOKEN_ONLY: strip last4 before it ever reaches storage.
		out.CardLast4 = nil
	}
	return &out, nil
}

var last4Re = regexp.MustCompile(`^[0-9]{4}$`)

// scan walks nested maps, slices and scalars, returning the path of the
// first PAN-like string found.
func (g *Guard) scan(v any, path string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if p, found := g.scan(child, childPath); found {
				return p, true
			}
		}
	case []any:
		for i, child := range t {
			if p, found := g.scan(child, fmt.Sprintf("%s[%d]", path, i)); found {
				return p, true
			}
		}
	case string:
		if g.isPANLike(t) {
			return path, true
		}
	}
	return "", false
}

func (g *Guard) isPANLike(value string) bool {
	if strings.HasPrefix(value, g.tokenPrefix) {
		return false
	}

	for _, candidate := range panCandidateRe.FindAllString(value, -1) {
		cleaned := strings.NewReplacer(" ", "", "-", "").Replace(candidate)
		if len(cleaned) < minPANLength || len(cleaned) > maxPANLength {
			continue
		}
		if passesLuhn(cleaned) {
			return true
		}
		for _, re := range networkPrefixRes {
			if re.MatchString(cleaned) {
				return true
			}
		}
	}
	return false
}

func passesLuhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
