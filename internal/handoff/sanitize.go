package handoff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/model"
)

// Validation sentinel errors. Gated candidates are dropped, never surfaced
// to the end user.
var (
	ErrMissingContactName  = errors.New("handoff: missing contact name")
	ErrMissingContactPhone = errors.New("handoff: missing contact phone")
	ErrMissingSummary      = errors.New("handoff: missing request summary")
)

// Sanitize normalizes a payload for delivery: every field present with an
// explicit (possibly empty) value, defaults applied, and sections outside
// the brand's declared schema stripped.
func Sanitize(p model.HandoffPayload, cfg brand.Config) model.HandoffPayload {
	out := model.HandoffPayload{
		Contact: model.HandoffContact{
			Name:  strings.TrimSpace(p.Contact.Name),
			Phone: strings.TrimSpace(p.Contact.Phone),
		},
		PreferredMeeting: model.HandoffMeeting{
			Mode: strings.TrimSpace(p.PreferredMeeting.Mode),
			Date: strings.TrimSpace(p.PreferredMeeting.Date),
			Time: strings.TrimSpace(p.PreferredMeeting.Time),
		},
		Matter: model.HandoffMatter{
			Category: strings.TrimSpace(p.Matter.Category),
			Urgency:  strings.TrimSpace(p.Matter.Urgency),
		},
		Request: model.HandoffRequest{
			Summary: strings.TrimSpace(p.Request.Summary),
			Details: strings.TrimSpace(p.Request.Details),
		},
	}

	if out.Matter.Category == "" {
		out.Matter.Category = "diger"
	}
	if out.Matter.Urgency == "" {
		out.Matter.Urgency = "normal"
	}

	// The property section only exists for brands that declare it.
	if cfg.HasPropertySchema() && p.Property != nil {
		out.Property = &model.HandoffProperty{
			TransactionType: strings.TrimSpace(p.Property.TransactionType),
			PropertyType:    strings.TrimSpace(p.Property.PropertyType),
			Location:        strings.TrimSpace(p.Property.Location),
			Budget:          strings.TrimSpace(p.Property.Budget),
		}
	}

	return out
}

// Validate enforces the minimum-data gate: contact name, contact phone, and
// request summary, plus any brand-required property fields.
func Validate(p model.HandoffPayload, cfg brand.Config) error {
	if p.Contact.Name == "" {
		return ErrMissingContactName
	}
	if p.Contact.Phone == "" {
		return ErrMissingContactPhone
	}
	if p.Request.Summary == "" {
		return ErrMissingSummary
	}

	for _, field := range []string{"transaction_type", "property_type", "location", "budget"} {
		if !cfg.Requires(field) {
			continue
		}
		if p.Property == nil || propertyField(p.Property, field) == "" {
			return fmt.Errorf("handoff: missing brand-required field %q", field)
		}
	}
	return nil
}

func propertyField(p *model.HandoffProperty, field string) string {
	switch field {
	case "transaction_type":
		return p.TransactionType
	case "property_type":
		return p.PropertyType
	case "location":
		return p.Location
	case "budget":
		return p.Budget
	}
	return ""
}
