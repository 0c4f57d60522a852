package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"labelq/internal/store"
)

func TestParseCreate(t *testing.T) {
	body := `{"command":"create","serials":[{"brand_id":"b1","gtin":"00012345600012","serial":"A1","sub":"user-1"}]}`
	msg, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if msg.Command != CommandCreate {
		t.Errorf("command = %q, want create", msg.Command)
	}
	if len(msg.Serials) != 1 || msg.Serials[0].Serial != "A1" {
		t.Errorf("unexpected serials: %+v", msg.Serials)
	}
}

func TestParseCreateConfirmed(t *testing.T) {
	body := `{"command":"create-confirmed","print_request":{"sub":"user-1","gtin":"012345600012","amount":200,"brand_id":"b1","printer_id":"p1","request_id":"r1","batch_index":3}}`
	msg, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if msg.PrintRequest == nil || msg.PrintRequest.Amount != 200 || msg.PrintRequest.BatchIndex != 3 {
		t.Errorf("unexpected print request: %+v", msg.PrintRequest)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{{{`, ErrMalformed},
		{"missing command", `{"serials":[]}`, ErrMalformed},
		{"unknown command", `{"command":"destroy"}`, ErrUnknownCommand},
		{"create-confirmed without request", `{"command":"create-confirmed"}`, ErrMalformed},
		{"create-confirmed with short gtin", `{"command":"create-confirmed","print_request":{"sub":"u","gtin":"123","amount":1,"brand_id":"b","request_id":"r"}}`, ErrMalformed},
		{"create-confirmed with non-digit gtin", `{"command":"create-confirmed","print_request":{"sub":"u","gtin":"12345600a012","amount":1,"brand_id":"b","request_id":"r"}}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.body)); !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseDeadLetter(t *testing.T) {
	body := `{"command":"confirm","unprocessed_items":{"labels":[{"brand_id":"b1","gtin":"g","serial":"s","sub":"u"}]},"failed_attempt_number":2}`
	envelope, err := ParseDeadLetter([]byte(body))
	if err != nil {
		t.Fatalf("ParseDeadLetter failed: %s", err)
	}
	if envelope.FailedAttempts != 2 {
		t.Errorf("failed attempts = %d, want 2", envelope.FailedAttempts)
	}
	if len(envelope.Unprocessed.Labels) != 1 {
		t.Errorf("unexpected labels: %+v", envelope.Unprocessed.Labels)
	}
}

func TestDeadLetterFirstAttemptOmitsCounter(t *testing.T) {
	envelope := DeadLetter{
		Command: CommandCreate,
		Unprocessed: Unprocessed{
			Labels: []store.Serial{{BrandID: "b1", GTIN: "g", Serial: "s", Sub: "u"}},
		},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal failed: %s", err)
	}
	if strings.Contains(string(body), "failed_attempt_number") {
		t.Errorf("first publish must omit failed_attempt_number: %s", body)
	}
	if !strings.Contains(string(body), `"unprocessed_items"`) {
		t.Errorf("envelope missing unprocessed_items: %s", body)
	}
}

func TestParseDeadLetterMalformed(t *testing.T) {
	if _, err := ParseDeadLetter([]byte(`{"unprocessed_items":{}}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing command: error = %v, want ErrMalformed", err)
	}
	if _, err := ParseDeadLetter([]byte(`{"command":"nope"}`)); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command: error = %v, want ErrUnknownCommand", err)
	}
}
