package brand

import (
	"encoding/json"

	"github.com/eekr1/emlak-ymh/internal/assistant"
)

// HandoffToolName is the declared function the assistant calls to submit a
// structured lead. Name matching in the orchestrator is substring-based
// ("handoff"/"lead") so renames in assistant dashboards keep working.
const HandoffToolName = "submit_customer_request"

var handoffToolParams = json.RawMessage(`{
  "type": "object",
  "properties": {
    "contact": {
      "type": "object",
      "properties": {
        "name": {"type": "string", "description": "Ad Soyad"},
        "phone": {"type": "string", "description": "Telefon numarası"}
      },
      "required": ["name", "phone"]
    },
    "preferred_meeting": {
      "type": "object",
      "properties": {
        "mode": {"type": "string", "enum": ["Telefon", "Ofis", "Whatsapp"]},
        "date": {"type": "string", "description": "YYYY-MM-DD"},
        "time": {"type": "string", "description": "HH:MM"}
      }
    },
    "matter": {
      "type": "object",
      "properties": {
        "category": {"type": "string", "enum": ["satılık", "kiralık", "arsa", "ticari", "diger"]},
        "urgency": {"type": "string", "enum": ["normal", "acil"]}
      }
    },
    "request": {
      "type": "object",
      "properties": {
        "summary": {"type": "string"},
        "details": {"type": "string"}
      },
      "required": ["summary"]
    },
    "property": {
      "type": "object",
      "properties": {
        "transaction_type": {"type": "string"},
        "property_type": {"type": "string"},
        "location": {"type": "string"},
        "budget": {"type": "string"}
      }
    }
  },
  "required": ["contact", "request"]
}`)

// Tools returns the tool set declared on every run for the brand. All brands
// currently share the single lead-capture function.
func Tools(key string) []assistant.Tool {
	return []assistant.Tool{
		assistant.NewFunctionTool(
			HandoffToolName,
			"Kullanıcının gayrimenkul talebini yapılandırılmış form olarak ekibe iletir.",
			handoffToolParams,
		),
	}
}
