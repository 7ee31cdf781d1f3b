// Package record defines the structured message record produced by the
// extraction pipeline and the tabular output written from it. The record
// schema is the contract enforced on every model response: exactly four
// keys in fixed order, a three-valued role enum, a nullable timestamp, and
// an "Unknown" default speaker.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Role is the categorical sender type of a message.
type Role string

const (
	// RoleAgent marks internal/agent/EXT participants.
	RoleAgent Role = "Agent"

	// RoleUser marks external/guest participants.
	RoleUser Role = "User"

	// RoleSystem marks bot/flow/system messages.
	RoleSystem Role = "System"
)

// UnknownSpeaker is the default speaker when none can be determined.
const UnknownSpeaker = "Unknown"

// canonicalRoles maps case-folded role values emitted by models to the enum.
var canonicalRoles = map[string]Role{
	"agent":  RoleAgent,
	"user":   RoleUser,
	"system": RoleSystem,
}

// MessageRecord is one extracted chat message. Field order matches the JSON
// key order the extraction contract demands: time, speaker, role, message.
// Records are immutable after creation; ordering within a conversation is
// the order returned by extraction, concatenated across chunks.
type MessageRecord struct {
	// Time is the message timestamp as the source wrote it, or nil when
	// the source carries none.
	Time *string `json:"time"`

	// Speaker is the display name of the sender, "Unknown" when missing.
	Speaker string `json:"speaker" validate:"required"`

	// Role is one of Agent, User, System.
	Role Role `json:"role" validate:"required,oneof=Agent User System"`

	// Message is the verbatim message content.
	Message string `json:"message"`
}

// validate is the shared validator instance for record schema checks.
var validate = validator.New()

// Canonicalize folds model drift into the schema: role values are matched
// case-insensitively against the enum, empty speakers default to
// "Unknown", and a blank timestamp becomes nil. Message content is never
// touched.
func (r *MessageRecord) Canonicalize() {
	if role, ok := canonicalRoles[strings.ToLower(strings.TrimSpace(string(r.Role)))]; ok {
		r.Role = role
	}
	if strings.TrimSpace(r.Speaker) == "" {
		r.Speaker = UnknownSpeaker
	}
	if r.Time != nil && strings.TrimSpace(*r.Time) == "" {
		r.Time = nil
	}
}

// Validate checks a single record against the schema.
func (r *MessageRecord) Validate() error {
	return validate.Struct(r)
}

// ValidateAll checks every record in the list. A single invalid record
// fails the whole list: partially valid results are never persisted.
func ValidateAll(records []MessageRecord) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Header returns the fixed CSV column order.
func Header() []string {
	return []string{"time", "speaker", "role", "message"}
}

// WriteCSV writes records as CSV with the fixed four-column header.
// A nil Time is written as an empty cell.
func WriteCSV(w io.Writer, records []MessageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for i := range records {
		t := ""
		if records[i].Time != nil {
			t = *records[i].Time
		}
		row := []string{t, records[i].Speaker, string(records[i].Role), records[i].Message}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
