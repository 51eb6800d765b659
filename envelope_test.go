package sentrykit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Serialize(t *testing.T) {
	env := NewEnvelope()
	env.Header.EventID = "00112233445566778899aabbccddeeff"
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{"message":"hi"}`)})

	data, err := env.Serialize()
	require.NoError(t, err)

	lines := strings.Split(string(data), "\n")
	require.Len(t, lines, 4) // header, item header, payload, trailing empty
	assert.Contains(t, lines[0], `"event_id":"00112233445566778899aabbccddeeff"`)
	assert.Contains(t, lines[1], `"type":"event"`)
	assert.Contains(t, lines[1], `"length":16`)
	assert.Equal(t, `{"message":"hi"}`, lines[2])
	assert.Equal(t, "", lines[3])
}

func TestEnvelope_RoundTrip(t *testing.T) {
	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope()
	env.Header.EventID = "00112233445566778899aabbccddeeff"
	env.Header.SentAt = &sentAt
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{"level":"info"}`)})
	env.AddItem(&EnvelopeItem{
		Type:        itemTypeAttachment,
		Filename:    "dump.txt",
		ContentType: "text/plain",
		Payload:     []byte("binary\npayload"),
	})

	data, err := env.Serialize()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.Header.EventID, parsed.Header.EventID)
	require.NotNil(t, parsed.Header.SentAt)
	assert.True(t, parsed.Header.SentAt.Equal(sentAt))
	require.Len(t, parsed.Items, 2)
	assert.Equal(t, env.Items[0].Payload, parsed.Items[0].Payload)
	assert.Equal(t, "dump.txt", parsed.Items[1].Filename)
	assert.Equal(t, []byte("binary\npayload"), parsed.Items[1].Payload)

	// Serializing the parsed form reproduces the bytes exactly.
	data2, err := parsed.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestParseEnvelope_LengthAbsent(t *testing.T) {
	raw := "{}\n{\"type\":\"event\"}\n{\"level\":\"error\"}\n"
	parsed, err := ParseEnvelope([]byte(raw))
	require.NoError(t, err)
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, `{"level":"error"}`, string(parsed.Items[0].Payload))
}

func TestParseEnvelope_Malformed(t *testing.T) {
	_, err := ParseEnvelope([]byte(""))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte("{}\n{\"length\":4}\nabcd\n"))
	assert.Error(t, err, "item without a type must be rejected")

	_, err = ParseEnvelope([]byte("{}\n{\"type\":\"event\",\"length\":100}\nshort\n"))
	assert.Error(t, err, "truncated payload must be rejected")
}

func TestEnvelope_Filter(t *testing.T) {
	env := NewEnvelope()
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent})
	env.AddItem(&EnvelopeItem{Type: itemTypeSession})

	kept := env.Filter(func(item *EnvelopeItem) bool { return item.Type == itemTypeSession })
	require.NotNil(t, kept)
	require.Len(t, kept.Items, 1)
	assert.Equal(t, itemTypeSession, kept.Items[0].Type)

	none := env.Filter(func(*EnvelopeItem) bool { return false })
	assert.Nil(t, none)
}
