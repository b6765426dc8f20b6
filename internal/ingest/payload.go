package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"epireport/internal/model"
)

var ErrEmptyBody = errors.New("empty request body")

// DecodePayload reads a gateway webhook body. The body is URL-decoded as a
// whole first and then split into key=value pairs, so a decoded '&' inside
// the text ends the field the same way the gateway's own encoder does.
func DecodePayload(body []byte) (model.GatewayPayload, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return model.GatewayPayload{}, ErrEmptyBody
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return model.GatewayPayload{}, fmt.Errorf("decode body: %w", err)
	}
	fields := map[string]string{}
	for _, pair := range strings.Split(decoded, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = value
	}
	return model.GatewayPayload{
		Sender:            fields["sender"],
		Timestamp:         fields["timestamp"],
		Text:              fields["text"],
		IncomingMessageID: optionalInt(fields["msgid"]),
		OutgoingMessageID: optionalInt(fields["oid"]),
		ModemNumber:       optionalInt(fields["modemno"]),
		APIKey:            fields["apikey"],
	}, nil
}

func optionalInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
