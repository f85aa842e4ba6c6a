package dlp

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// piiKinds lists the detectors in reporting order.
var piiKinds = [...]PIIKind{KindPhone, KindSSN, KindCreditCard, KindIPAddress, KindEmail}

// maxPIILen bounds the byte length of any PII match; the email pattern is the
// longest at 64+1+190+1+63.
const maxPIILen = 319

// Every detector starts on a word boundary. The patterns leave the leading \b
// out and find checks it against the full text, because a search resumed on
// text[off:] would otherwise see a boundary at off that is not there.
var (
	phonePattern      = regexp.MustCompile(`\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnPattern        = regexp.MustCompile(`\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern = regexp.MustCompile(`\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
	ipAddressPattern  = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+-]{1,64}@[A-Za-z0-9.-]{1,190}\.[A-Za-z]{2,63}\b`)
)

func (k PIIKind) pattern() *regexp.Regexp {
	switch k {
	case KindPhone:
		return phonePattern
	case KindSSN:
		return ssnPattern
	case KindCreditCard:
		return creditCardPattern
	case KindIPAddress:
		return ipAddressPattern
	case KindEmail:
		return emailPattern
	default:
		return nil
	}
}

// find returns the leftmost match of the detector starting at or after off.
func (k PIIKind) find(text string, off int) (int, int, bool) {
	re := k.pattern()
	for off <= len(text) {
		loc := re.FindStringIndex(text[off:])
		if loc == nil {
			return 0, 0, false
		}
		start := off + loc[0]
		if wordBoundaryAt(text, start) {
			return start, off + loc[1], true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + max(size, 1)
	}
	return 0, 0, false
}

// wordBoundaryAt reports whether \b holds before text[i], using the ASCII word
// class of the regexp package.
func wordBoundaryAt(text string, i int) bool {
	before := i > 0 && isWordByte(text[i-1])
	after := i < len(text) && isWordByte(text[i])
	return before != after
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}

// confidence scores a candidate. ok is false when the candidate fails
// validation and must be dropped.
func (k PIIKind) confidence(match string) (score float64, ok bool) {
	switch k {
	case KindPhone:
		return phoneConfidence(match), true
	case KindSSN:
		return 0.95, true
	case KindCreditCard:
		return creditCardConfidence(match), true
	case KindIPAddress:
		if !validIPv4(match) {
			return 0, false
		}
		return 0.9, true
	case KindEmail:
		return 0.85, true
	default:
		return 0, false
	}
}

func phoneConfidence(phone string) float64 {
	if len(digitsOf(phone)) != 10 {
		return 0.6
	}
	if strings.ContainsAny(phone, "-.") {
		return 0.9
	}
	return 0.8
}

func creditCardConfidence(card string) float64 {
	digits := digitsOf(card)
	if len(digits) != 16 {
		return 0.5
	}
	if luhnValid(digits) {
		return 0.95
	}
	return 0.7
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// luhnValid checks a string of ASCII digits against the Luhn checksum.
func luhnValid(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

func validIPv4(ip string) bool {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	for _, octet := range octets {
		if _, err := strconv.ParseUint(octet, 10, 8); err != nil {
			return false
		}
	}
	return true
}

// PIIExtractor applies the fixed catalogue of personal data detectors.
type PIIExtractor struct{}

// NewPIIExtractor returns the extractor for the builtin catalogue.
func NewPIIExtractor() *PIIExtractor {
	return &PIIExtractor{}
}

// MaxLen returns an upper bound on the byte length of any match.
func (x *PIIExtractor) MaxLen() int {
	return maxPIILen
}

// Scan reports the PII matches in w that the window owns. marks holds, per
// kind, the global offset where the previous candidate ended.
func (x *PIIExtractor) Scan(w Window, marks map[PIIKind]int64) []PIIMatch {
	var out []PIIMatch
	for _, kind := range piiKinds {
		marks[kind] = w.walk(marks[kind], kind.find, func(start, end int) {
			text := w.Text[start:end]
			score, ok := kind.confidence(text)
			if !ok {
				return
			}
			out = append(out, PIIMatch{
				Kind:       kind,
				Text:       text,
				Position:   w.Base + int64(start),
				Confidence: score,
			})
		})
	}
	sortByPosition(out, func(m PIIMatch) (int64, int) {
		return m.Position, kindRank(m.Kind)
	})
	return out
}

func kindRank(kind PIIKind) int {
	for i, k := range piiKinds {
		if k == kind {
			return i
		}
	}
	return len(piiKinds)
}

// DetectPII scans a complete text for personal data.
func DetectPII(text string) []PIIMatch {
	found := NewPIIExtractor().Scan(wholeText(text), make(map[PIIKind]int64))
	if found == nil {
		return []PIIMatch{}
	}
	return found
}
