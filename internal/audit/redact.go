package audit

import (
	"encoding/json"

	"github.com/wisbric/slotowl/internal/telemetry"
)

const redacted = "[REDACTED]"

// personalFields are argument keys whose values never reach the audit table.
// Identifier-like fields are pseudonymised so entries can still be correlated.
var personalFields = map[string]bool{
	"customer_name": false,
	"name":          false,
	"email":         false,
	"phone":         true,
	"phone_number":  true,
	"wa_id":         true,
	"whatsapp_id":   true,
	"user_id":       true,
}

// RedactArguments replaces personal fields in a JSON object of tool arguments.
// Anything that is not a JSON object is returned unchanged.
func RedactArguments(args json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil || fields == nil {
		return args
	}

	changed := false
	for key, raw := range fields {
		hash, personal := personalFields[key]
		if !personal {
			continue
		}
		value := redacted
		var s string
		if hash && json.Unmarshal(raw, &s) == nil {
			value = telemetry.HashID(s)
		}
		enc, _ := json.Marshal(value)
		fields[key] = enc
		changed = true
	}
	if !changed {
		return args
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
