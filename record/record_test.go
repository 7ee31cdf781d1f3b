package record

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name        string
		in          MessageRecord
		wantRole    Role
		wantSpeaker string
		wantTimeNil bool
	}{
		{
			name:        "lowercase role",
			in:          MessageRecord{Role: "agent", Speaker: "Ravi"},
			wantRole:    RoleAgent,
			wantSpeaker: "Ravi",
			wantTimeNil: true,
		},
		{
			name:        "padded role",
			in:          MessageRecord{Role: " USER ", Speaker: "Neha"},
			wantRole:    RoleUser,
			wantSpeaker: "Neha",
			wantTimeNil: true,
		},
		{
			name:        "missing speaker defaults to Unknown",
			in:          MessageRecord{Role: RoleSystem, Speaker: "  "},
			wantRole:    RoleSystem,
			wantSpeaker: UnknownSpeaker,
			wantTimeNil: true,
		},
		{
			name:        "blank time becomes nil",
			in:          MessageRecord{Role: RoleUser, Speaker: "A", Time: strPtr(" ")},
			wantRole:    RoleUser,
			wantSpeaker: "A",
			wantTimeNil: true,
		},
		{
			name:        "unmappable role left alone",
			in:          MessageRecord{Role: "Moderator", Speaker: "A"},
			wantRole:    "Moderator",
			wantSpeaker: "A",
			wantTimeNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.in
			r.Canonicalize()
			assert.Equal(t, tt.wantRole, r.Role)
			assert.Equal(t, tt.wantSpeaker, r.Speaker)
			assert.Equal(t, tt.wantTimeNil, r.Time == nil)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := MessageRecord{Speaker: "Ravi", Role: RoleAgent, Message: "ok. since when?"}
	assert.NoError(t, valid.Validate())

	badRole := MessageRecord{Speaker: "Ravi", Role: "Moderator", Message: "hi"}
	assert.Error(t, badRole.Validate())

	noSpeaker := MessageRecord{Role: RoleUser, Message: "hi"}
	assert.Error(t, noSpeaker.Validate())
}

func TestValidateAllRejectsWholeList(t *testing.T) {
	records := []MessageRecord{
		{Speaker: "A", Role: RoleUser, Message: "hi"},
		{Speaker: "B", Role: "nope", Message: "yo"},
	}
	err := ValidateAll(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
}

func TestWriteCSV(t *testing.T) {
	records := []MessageRecord{
		{Time: strPtr("10:02"), Speaker: "Ravi", Role: RoleAgent, Message: "ok. since when?"},
		{Time: nil, Speaker: "Neha", Role: RoleUser, Message: "today only"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,speaker,role,message", lines[0])
	assert.Equal(t, "10:02,Ravi,Agent,ok. since when?", lines[1])
	assert.Equal(t, ",Neha,User,today only", lines[2])
}
