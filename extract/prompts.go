package extract

import (
	"bytes"
	"text/template"

	"github.com/chatclean/chatclean/backend"
)

// systemPrompt is the fixed instruction contract: the exact output schema,
// the three-valued role enum, the null/Unknown defaults, and guidance for
// lines that carry more than one speaker's turn.
const systemPrompt = `You are a chat log parser. Convert raw conversation text into a JSON array of messages.
Do not add commentary. Output only JSON that starts with '[' and ends with ']'.

Each object MUST include exactly these keys:
"time", "speaker", "role", "message".

Use "role": "Agent" for internal/agent/EXT, "User" for external/guest, "System" for bot/flow/system.
If a timestamp or speaker is missing, use null for time and "Unknown" for speaker.

Very important:
Sometimes multiple people talk in one text line.
If a line looks like:
  "ok. since when? neha- today only"
then that is actually two messages:
  - Agent Ravi: "ok. since when?"
  - User Neha: "today only"

If a line seems to contain two turns, treat them as separate messages.

Split such lines when you see punctuation, dashes, or names indicating a reply.
Preserve exact punctuation and emojis. Do not summarize or merge messages.`

// userTemplate embeds the chunk text in the user instruction. The key
// order reminder is repeated here because smaller models drift without it.
var userTemplate = template.Must(template.New("user").Parse(`Raw conversation:
{{.Chunk}}

Produce the JSON array now. No markdown, no explanations.
Follow the exact key order in every object:
"time", "speaker", "role", "message"`))

// buildMessages assembles the two-message exchange for one chunk.
func buildMessages(chunkText string) ([]backend.Message, error) {
	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, struct{ Chunk string }{Chunk: chunkText}); err != nil {
		return nil, err
	}
	return []backend.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buf.String()},
	}, nil
}
