package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishAssignsMonotonicSeq(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	e1 := bus.Publish("chat-1", MessageAdded{})
	e2 := bus.Publish("chat-1", PauseCleared{})
	require.Equal(t, uint64(1), e1.Seq)
	require.Equal(t, uint64(2), e2.Seq)

	got1 := <-ch
	got2 := <-ch
	require.Equal(t, e1.Seq, got1.Seq)
	require.Equal(t, e2.Seq, got2.Seq)
}

func TestBus_OverflowDropsOldestNotNewest(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	var last Envelope
	for i := 0; i < defaultBusCapacity+10; i++ {
		last = bus.Publish("chat-1", PauseCleared{})
	}

	var seen Envelope
	for {
		select {
		case seen = <-ch:
			continue
		default:
		}
		break
	}
	require.Equal(t, last.Seq, seen.Seq, "the newest event must survive overflow even if older ones are dropped")
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, unsub := bus.Subscribe()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
}

func TestEnvelope_JSONRoundTripsSeqAsDecimalString(t *testing.T) {
	t.Parallel()

	env := Envelope{ChatID: "chat-1", Seq: 9007199254740993, Event: MessageRemoved{MessageID: "m1"}}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	seqStr, ok := raw["seq"].(string)
	require.True(t, ok, "seq must serialize as a JSON string, not a number")
	require.Equal(t, "9007199254740993", seqStr)

	var got Envelope
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, env.Seq, got.Seq)
	require.Equal(t, env.ChatID, got.ChatID)
	require.Equal(t, TypeMessageRemoved, got.Event.Type())
	require.Equal(t, MessageRemoved{MessageID: "m1"}, got.Event)
}

func TestEnvelope_UnmarshalRejectsBareNumericSeq(t *testing.T) {
	t.Parallel()

	var env Envelope
	err := json.Unmarshal([]byte(`{"chat_id":"c","seq":42,"type":"ack","client_request_id":"r"}`), &env)
	require.Error(t, err)
}
