package handoff

import (
	"regexp"
	"slices"
	"strings"

	"github.com/eekr1/emlak-ymh/internal/model"
)

// categoryKeywords maps real-estate vocabulary to the matter category.
// Checked in order; the first category with a hit wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"satılık", []string{"satılık", "satilik", "satış", "satmak", "ev almak", "daire almak"}},
	{"kiralık", []string{"kiralık", "kiralik", "kiraya", "kiralamak", "kiralık ev", "kira"}},
	{"arsa", []string{"arsa", "tarla", "arazi", "imarlı", "bağ", "bahçe"}},
	{"ticari", []string{"dükkan", "dükkân", "ofis", "depo", "fabrika", "devren", "işyeri", "ticari"}},
}

const categoryFallback = "diger"

// phoneRe finds phone-like tokens: an optional leading + followed by digits
// with common separators. Normalization then enforces a minimum digit count.
var phoneRe = regexp.MustCompile(`\+?\d[\d .\-()]{7,}\d`)

// namePrefixes are contact labels stripped from the text preceding a phone
// number when guessing the contact name.
var namePrefixes = []string{"iletişim", "ad soyad", "adım", "isim", "ben", "contact"}

// InferredProducer synthesizes a handoff from conversational text when the
// assistant produced no explicit block. Lowest-confidence path: it requires a
// phone-like token and guesses the category from keywords.
type InferredProducer struct{}

// Source implements Producer.
func (InferredProducer) Source() Source { return SourceInferred }

// Produce scans the combined user+assistant text. Without a phone number
// there is nothing actionable to hand off, so it yields no candidate.
func (InferredProducer) Produce(text TurnText) (*Candidate, bool) {
	combined := text.UserMessage + "\n" + text.AssistantRaw

	phone, line := findPhone(combined)
	if phone == "" {
		return nil, false
	}

	category := classifyCategory(combined)
	name := guessName(line, phone)

	summary := "Emlak talebi"
	if category != categoryFallback {
		summary = capitalize(category) + " talebi"
	}

	payload := model.HandoffPayload{
		Contact: model.HandoffContact{Name: name, Phone: phone},
		Matter:  model.HandoffMatter{Category: category, Urgency: "normal"},
		Request: model.HandoffRequest{
			Summary: summary,
			Details: snippet(text.UserMessage, 280),
		},
	}

	return &Candidate{
		Handoff: model.Handoff{Kind: model.HandoffKindCustomerRequest, Payload: payload},
		Source:  SourceInferred,
	}, true
}

// classifyCategory picks the first keyword category present in the text,
// falling back to "diger" when no real-estate vocabulary matches.
func classifyCategory(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return categoryFallback
}

// findPhone returns the first normalized phone-like token and the line it
// appeared on. Tokens with fewer than 10 digits are not phones.
func findPhone(text string) (phone, line string) {
	for _, l := range strings.Split(text, "\n") {
		m := phoneRe.FindString(l)
		if m == "" {
			continue
		}
		normalized := normalizePhone(m)
		if len(strings.TrimPrefix(normalized, "+")) >= 10 {
			return normalized, l
		}
	}
	return "", ""
}

func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// guessName takes the text before the phone token on its line and strips
// contact labels and separators. "İletişim: Ayşe Yılmaz, 05551234567"
// yields "Ayşe Yılmaz".
func guessName(line, phone string) string {
	idx := phoneRe.FindStringIndex(line)
	if idx == nil {
		return ""
	}
	before := line[:idx[0]]
	before = strings.TrimRight(before, " \t,:;-")

	// Byte offsets into a ToLower'd string do not line up with the original
	// for Turkish dotted capitals, so match labels without re-indexing.
	if colon := strings.LastIndex(before, ":"); colon >= 0 {
		label := strings.ToLower(strings.TrimSpace(before[:colon]))
		for _, prefix := range namePrefixes {
			if strings.Contains(label, prefix) {
				before = before[colon+1:]
				break
			}
		}
	} else if fields := strings.Fields(before); len(fields) > 0 {
		if first := strings.ToLower(fields[0]); slices.Contains(namePrefixes, first) {
			before = strings.TrimSpace(before[len(fields[0]):])
		}
	}
	return strings.Trim(before, " \t,:;-")
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
