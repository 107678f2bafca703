// Package event turns raw processor payloads into canonical events and routes them.
package event

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/jnst/payment-reconciler/internal/model"
)

// DecodePayPal parses a PayPal request body, form-encoded or JSON. Any
// message without an event_type is a legacy IPN message whatever its encoding.
func DecodePayPal(body []byte, contentType string) (raw map[string]any, ipn bool, err error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "application/x-www-form-urlencoded" || (mediaType == "" && !looksLikeJSON(body)) {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
		}

		return FormToMap(values), true, nil
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}

	return raw, IsLegacyIPN(raw), nil
}

// IsLegacyIPN reports whether a PayPal message lacks the REST event_type and
// so must be verified by the IPN round trip.
func IsLegacyIPN(raw map[string]any) bool {
	return stringField(raw, "event_type") == ""
}

// DecodeStripe parses a Stripe event body.
func DecodeStripe(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}

	return raw, nil
}

// FormToMap keeps the first value of every form field.
func FormToMap(values url.Values) map[string]any {
	raw := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}

	return raw
}

func looksLikeJSON(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))

	return strings.HasPrefix(trimmed, "{")
}
