package codec

import (
	"math"
	"testing"
)

func TestFloat64RoundTrip(t *testing.T) {
	cases := []float64{
		0,
		math.Copysign(0, -1),
		1.0,
		-1.0,
		100.0,
		2.0,
		math.Inf(1),
		math.Inf(-1),
		math.NaN(),
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
	}

	for _, v := range cases {
		buf := AppendFloat64(nil, v)
		if len(buf) != 8 {
			t.Fatalf("expected 8 bytes, got %d", len(buf))
		}
		got := ReadFloat64(buf)
		if math.IsNaN(v) {
			if !math.IsNaN(got) {
				t.Fatalf("expected NaN, got %v", got)
			}
			continue
		}
		if math.Float64bits(got) != math.Float64bits(v) {
			t.Fatalf("round-trip mismatch: want %v (bits %x), got %v (bits %x)",
				v, math.Float64bits(v), got, math.Float64bits(got))
		}
	}
}

func TestInt32RoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, math.MaxInt32, math.MinInt32, 7}
	for _, v := range cases {
		buf := AppendInt32(nil, v)
		if got := ReadInt32(buf); got != v {
			t.Fatalf("want %d, got %d", v, got)
		}
	}
}

func TestUint64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, math.MaxUint64, 0x00000_18F_6E_4B_7A_00}
	for _, v := range cases {
		buf := AppendUint64(nil, v)
		if got := ReadUint64(buf); got != v {
			t.Fatalf("want %d, got %d", v, got)
		}
	}
}

func TestTradeMessageRoundTrip(t *testing.T) {
	msg := TradeMessage{
		TopicID:     7,
		TimestampMs: 0x00000_18F_6E_4B_7A_00,
		Price:       100.0,
		Quantity:    2.0,
	}

	payload := EncodeTradeMessage(msg)
	if len(payload) != TradeMessageLen {
		t.Fatalf("expected %d bytes, got %d", TradeMessageLen, len(payload))
	}

	got := DecodeTradeMessage(payload)
	if got != msg {
		t.Fatalf("round-trip mismatch: want %+v, got %+v", msg, got)
	}

	if got := DecodeTopicID(payload); got != msg.TopicID {
		t.Fatalf("DecodeTopicID: want %d, got %d", msg.TopicID, got)
	}
}

func TestTopicIDBoundaries(t *testing.T) {
	for _, topic := range []int32{math.MaxInt32, math.MinInt32} {
		frame := EncodeSubscribeFrame(topic)
		if frame[0] != TypeSubscribe {
			t.Fatalf("expected subscribe type byte")
		}
		if got := ReadInt32(frame[1:5]); got != topic {
			t.Fatalf("subscribe topic round-trip: want %d, got %d", topic, got)
		}

		msg := TradeMessage{TopicID: topic, TimestampMs: 1, Price: 1, Quantity: 1}
		payload := EncodeTradeMessage(msg)
		if got := DecodeTopicID(payload); got != topic {
			t.Fatalf("data topic round-trip: want %d, got %d", topic, got)
		}
	}
}

func TestEncodeDataFramePreservesVerbatimPayload(t *testing.T) {
	// Simulates an inbound payload with semantically meaningless but
	// otherwise arbitrary bytes in the non-topic fields; the broker must
	// not re-encode them.
	inbound := []byte{
		0, 0, 0, 7, // topic_id
		0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0, // timestamp_ms (garbage but verbatim)
		0x40, 0x59, 0, 0, 0, 0, 0, 0, // price
		0x40, 0, 0, 0, 0, 0, 0, 0, // quantity
	}

	frame := EncodeDataFrame(inbound)
	if len(frame) != DataFrameLen {
		t.Fatalf("expected %d bytes, got %d", DataFrameLen, len(frame))
	}
	if frame[0] != TypeData {
		t.Fatalf("expected data type byte")
	}
	for i, b := range inbound {
		if frame[1+i] != b {
			t.Fatalf("byte %d not verbatim: want %x, got %x", i, b, frame[1+i])
		}
	}
}
