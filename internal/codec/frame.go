// Package codec implements the broker's wire framing: pure functions that
// read and write big-endian fields over a byte slice. No I/O, no state.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame type tags, identifying the first byte of every frame on the wire.
const (
	TypeSubscribe byte = 0x01
	TypeData      byte = 0x02
)

// Byte lengths of each frame on the wire, header included.
const (
	SubscribeFrameLen = 1 + 4  // type + topic_id
	DataFrameLen      = 1 + 28 // type + TradeMessage payload
	TradeMessageLen   = 28     // topic_id + timestamp_ms + price + quantity
)

// ErrUnknownFrameType describes a leading byte that is not a recognized
// frame type. Session builds one to report a protocol error and terminates.
type ErrUnknownFrameType struct {
	Type byte
}

func (e ErrUnknownFrameType) Error() string {
	return fmt.Sprintf("codec: unknown frame type 0x%02x", e.Type)
}

// TradeMessage is the fixed 28-byte payload carried by a DATA frame.
// The broker only inspects TopicID for routing; the remaining fields are
// opaque and must travel byte-for-byte from publisher to subscribers.
type TradeMessage struct {
	TopicID     int32
	TimestampMs uint64
	Price       float64
	Quantity    float64
}

// AppendUint8 appends a single byte.
func AppendUint8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

// AppendInt32 appends a signed 32-bit integer, big-endian.
func AppendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

// AppendUint64 appends an unsigned 64-bit integer, big-endian.
func AppendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// AppendFloat64 appends the big-endian bit-pattern of a float64. This is a
// bitwise reinterpretation, not a textual or normalized form; round-trips
// bit-exact for all finite values, ±0, ±Inf, and quiet NaNs.
func AppendFloat64(buf []byte, v float64) []byte {
	return AppendUint64(buf, math.Float64bits(v))
}

// ReadUint8 reads a single byte at p[0].
func ReadUint8(p []byte) uint8 {
	return p[0]
}

// ReadInt32 reads a signed 32-bit big-endian integer from p[0:4].
func ReadInt32(p []byte) int32 {
	return int32(binary.BigEndian.Uint32(p))
}

// ReadUint64 reads an unsigned 64-bit big-endian integer from p[0:8].
func ReadUint64(p []byte) uint64 {
	return binary.BigEndian.Uint64(p)
}

// ReadFloat64 reads the big-endian bit-pattern of a float64 from p[0:8].
func ReadFloat64(p []byte) float64 {
	return math.Float64frombits(ReadUint64(p))
}

// DecodeTopicID reads just the topic_id field of a TradeMessage payload,
// the only field the broker's routing path needs to inspect.
func DecodeTopicID(payload []byte) int32 {
	return ReadInt32(payload[0:4])
}

// EncodeTradeMessage serializes a TradeMessage into its 28-byte wire form.
func EncodeTradeMessage(m TradeMessage) []byte {
	buf := make([]byte, 0, TradeMessageLen)
	buf = AppendInt32(buf, m.TopicID)
	buf = AppendUint64(buf, m.TimestampMs)
	buf = AppendFloat64(buf, m.Price)
	buf = AppendFloat64(buf, m.Quantity)
	return buf
}

// DecodeTradeMessage parses a 28-byte TradeMessage payload. Callers must
// ensure len(payload) >= TradeMessageLen; this layer does no bounds
// validation beyond what a slice index would already panic on.
func DecodeTradeMessage(payload []byte) TradeMessage {
	return TradeMessage{
		TopicID:     ReadInt32(payload[0:4]),
		TimestampMs: ReadUint64(payload[4:12]),
		Price:       ReadFloat64(payload[12:20]),
		Quantity:    ReadFloat64(payload[20:28]),
	}
}

// EncodeSubscribeFrame builds a complete 5-byte SUBSCRIBE frame.
func EncodeSubscribeFrame(topicID int32) []byte {
	buf := make([]byte, 0, SubscribeFrameLen)
	buf = AppendUint8(buf, TypeSubscribe)
	buf = AppendInt32(buf, topicID)
	return buf
}

// EncodeDataFrame builds a complete 29-byte DATA frame by prepending the
// type byte to an already-encoded 28-byte TradeMessage payload. The caller
// supplies the verbatim inbound payload bytes (not a re-encoded copy) so
// that routed frames remain bit-exact with what the publisher sent.
func EncodeDataFrame(payload []byte) []byte {
	buf := make([]byte, 0, DataFrameLen)
	buf = AppendUint8(buf, TypeData)
	buf = append(buf, payload...)
	return buf
}
