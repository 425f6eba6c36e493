package model

// HandoffKindCustomerRequest is the only handoff kind currently produced.
const HandoffKindCustomerRequest = "customer_request"

// Handoff is a structured lead record extracted from a conversation turn.
// Exactly one of three producers yields it per turn: an explicit tool call,
// a fenced block in the assistant text, or heuristic inference.
type Handoff struct {
	Kind    string         `json:"kind"`
	Payload HandoffPayload `json:"payload"`
}

// HandoffPayload carries the lead details forwarded to human-facing sinks.
type HandoffPayload struct {
	Contact          HandoffContact `json:"contact"`
	PreferredMeeting HandoffMeeting `json:"preferred_meeting"`
	Matter           HandoffMatter  `json:"matter"`
	Request          HandoffRequest `json:"request"`
	// Property is brand-variant: only populated (and only required) for
	// brands that declare property fields in their handoff schema.
	Property *HandoffProperty `json:"property,omitempty"`
}

// HandoffContact identifies the person to reach back.
type HandoffContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// HandoffMeeting is the caller's contact preference.
type HandoffMeeting struct {
	Mode string `json:"mode"` // Telefon, Ofis, Whatsapp
	Date string `json:"date"` // YYYY-MM-DD or empty
	Time string `json:"time"` // HH:MM or empty
}

// HandoffMatter classifies the request.
type HandoffMatter struct {
	Category string `json:"category"` // satılık, kiralık, arsa, ticari, diger
	Urgency  string `json:"urgency"`  // normal, acil
}

// HandoffRequest holds the free-text request description.
type HandoffRequest struct {
	Summary string `json:"summary"`
	Details string `json:"details"`
}

// HandoffProperty holds brand-variant transaction fields.
type HandoffProperty struct {
	TransactionType string `json:"transaction_type"`
	PropertyType    string `json:"property_type"`
	Location        string `json:"location"`
	Budget          string `json:"budget"`
}
