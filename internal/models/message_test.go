package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		id   MessageID
		wire string
	}{
		{name: "provisional", id: ProvisionalID("c-1"), wire: `{"provisional":"c-1"}`},
		{name: "durable", id: DurableID(42), wire: `{"durable":42}`},
		{name: "unset", id: MessageID{}, wire: `null`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.id)
			require.NoError(t, err)
			assert.JSONEq(t, tc.wire, string(data))

			var decoded MessageID
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tc.id, decoded)
		})
	}
}

func TestMessageIDNullResetsValue(t *testing.T) {
	id := DurableID(7)
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.True(t, id.IsZero())
}

func TestMessageIDRejectsBothKinds(t *testing.T) {
	var id MessageID
	err := json.Unmarshal([]byte(`{"provisional":"c-1","durable":3}`), &id)
	assert.Error(t, err)
	assert.True(t, id.IsZero())
}

func TestMessageIDInsideMessage(t *testing.T) {
	msg := Message{ID: DurableID(9), SenderID: "trainer", ReceiverID: "client", Content: "hi"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	id, ok := decoded.ID.Durable()
	require.True(t, ok)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, "", decoded.ID.Local())
}
