// Package osc encodes and decodes the Open Sound Control 1.0 messages the
// sensors send and the beat outputs emit.
//
// Only the subset in use is supported: int32 ('i'), int64 ('h'), float32
// ('f'), float64 ('d') and string ('s') arguments, no bundles. All values are
// big-endian; strings and the type tag are null-terminated and padded to a
// multiple of four bytes.
package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/ppg"
)

// Address prefixes
const (
	PPGPrefix  = "/ppg/"
	BeatPrefix = "/beat/"
)

// Message is a decoded OSC message. Arguments are int32, int64, float32,
// float64 or string.
type Message struct {
	Address   string
	Arguments []any
}

// Encode serializes m into OSC wire format
func Encode(m Message) ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, errors.WrapInvalid(fmt.Errorf("address %q must start with /", m.Address),
			"osc", "Encode", "check address")
	}

	var tags strings.Builder
	tags.WriteByte(',')
	var args bytes.Buffer
	for i, arg := range m.Arguments {
		switch v := arg.(type) {
		case int32:
			tags.WriteByte('i')
			_ = binary.Write(&args, binary.BigEndian, v)
		case int64:
			tags.WriteByte('h')
			_ = binary.Write(&args, binary.BigEndian, v)
		case float32:
			tags.WriteByte('f')
			_ = binary.Write(&args, binary.BigEndian, math.Float32bits(v))
		case float64:
			tags.WriteByte('d')
			_ = binary.Write(&args, binary.BigEndian, math.Float64bits(v))
		case string:
			tags.WriteByte('s')
			writeString(&args, v)
		default:
			return nil, errors.WrapInvalid(fmt.Errorf("argument %d has unsupported type %T", i, arg),
				"osc", "Encode", "encode argument")
		}
	}

	var out bytes.Buffer
	writeString(&out, m.Address)
	writeString(&out, tags.String())
	out.Write(args.Bytes())
	return out.Bytes(), nil
}

// Decode parses one OSC message. Errors match errors.ErrParsingFailed.
func Decode(data []byte) (Message, error) {
	r := reader{data: data}

	address, err := r.string()
	if err != nil {
		return Message{}, parseError("address", err)
	}
	if !strings.HasPrefix(address, "/") {
		return Message{}, parseError("address", fmt.Errorf("%q does not start with /", address))
	}

	tags, err := r.string()
	if err != nil {
		return Message{}, parseError("type tag", err)
	}
	if !strings.HasPrefix(tags, ",") {
		return Message{}, parseError("type tag", fmt.Errorf("%q does not start with ','", tags))
	}

	msg := Message{Address: address, Arguments: make([]any, 0, len(tags)-1)}
	for _, tag := range tags[1:] {
		var arg any
		switch tag {
		case 'i':
			var u uint32
			u, err = r.uint32()
			arg = int32(u)
		case 'h':
			var u uint64
			u, err = r.uint64()
			arg = int64(u)
		case 'f':
			var u uint32
			u, err = r.uint32()
			arg = math.Float32frombits(u)
		case 'd':
			var u uint64
			u, err = r.uint64()
			arg = math.Float64frombits(u)
		case 's':
			arg, err = r.string()
		default:
			err = fmt.Errorf("unsupported type tag %q", tag)
		}
		if err != nil {
			return Message{}, parseError("arguments", err)
		}
		msg.Arguments = append(msg.Arguments, arg)
	}
	return msg, nil
}

func parseError(part string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, part, err),
		"osc", "Decode", "parse message")
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	pad := 4 - len(s)%4
	buf.Write(make([]byte, pad))
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) string() (string, error) {
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", r.pos)
	}
	s := string(r.data[r.pos : r.pos+end])
	next := r.pos + (end/4+1)*4
	if next > len(r.data) {
		return "", fmt.Errorf("string padding past end at offset %d", r.pos)
	}
	r.pos = next
	return s, nil
}

func (r *reader) uint32() (uint32, error) {
	if len(r.data)-r.pos < 4 {
		return 0, fmt.Errorf("need 4 bytes at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if len(r.data)-r.pos < 8 {
		return 0, fmt.Errorf("need 8 bytes at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// channelFromAddress parses "/ppg/{n}" style addresses
func channelFromAddress(address, prefix string) (int, error) {
	rest, ok := strings.CutPrefix(address, prefix)
	if !ok {
		return 0, fmt.Errorf("address %q does not start with %s", address, prefix)
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("address %q has no channel number", address)
	}
	return id, nil
}

// DecodeBundle turns a /ppg/{ch} message into a SampleBundle. The message
// carries five int32 samples followed by the bundle timestamp in
// milliseconds as int32 or int64. Channel range and sample range are left to
// ppg.Validator; structural problems match errors.ErrMalformedBundle.
func DecodeBundle(m Message) (ppg.SampleBundle, error) {
	id, err := channelFromAddress(m.Address, PPGPrefix)
	if err != nil {
		return ppg.SampleBundle{}, malformed("%v", err)
	}
	if len(m.Arguments) != ppg.SamplesPerBundle+1 {
		return ppg.SampleBundle{}, malformed("expected %d arguments, got %d",
			ppg.SamplesPerBundle+1, len(m.Arguments))
	}

	b := ppg.SampleBundle{ChannelID: id, Samples: make([]int, ppg.SamplesPerBundle)}
	for i := 0; i < ppg.SamplesPerBundle; i++ {
		v, ok := m.Arguments[i].(int32)
		if !ok {
			return ppg.SampleBundle{}, malformed("sample %d is %T, want int32", i, m.Arguments[i])
		}
		b.Samples[i] = int(v)
	}

	switch ts := m.Arguments[ppg.SamplesPerBundle].(type) {
	case int32:
		b.TimestampMs = int64(ts)
	case int64:
		b.TimestampMs = ts
	default:
		return ppg.SampleBundle{}, malformed("timestamp is %T, want int32 or int64", ts)
	}
	return b, nil
}

func malformed(format string, args ...any) error {
	return errors.Invalidf(errors.ErrMalformedBundle, "osc", "DecodeBundle", format, args...)
}

// EncodeBundle builds the /ppg/{ch} message for a bundle, as a sensor would send it
func EncodeBundle(b ppg.SampleBundle) Message {
	args := make([]any, 0, len(b.Samples)+1)
	for _, v := range b.Samples {
		args = append(args, int32(v))
	}
	args = append(args, int32(b.TimestampMs))
	return Message{Address: PPGPrefix + strconv.Itoa(b.ChannelID), Arguments: args}
}

// BeatMessage builds the /beat/{ch} message: [int64 detection ms, float32 bpm, float32 intensity]
func BeatMessage(ev ppg.BeatEvent) Message {
	return Message{
		Address: BeatPrefix + strconv.Itoa(ev.ChannelID),
		Arguments: []any{
			ev.DetectionUnixMs(),
			float32(ev.BPM),
			float32(ev.Intensity),
		},
	}
}

// DecodeBeat parses a /beat/{ch} message back into a BeatEvent
func DecodeBeat(m Message) (ppg.BeatEvent, error) {
	id, err := channelFromAddress(m.Address, BeatPrefix)
	if err != nil {
		return ppg.BeatEvent{}, parseError("address", err)
	}
	if len(m.Arguments) != 3 {
		return ppg.BeatEvent{}, parseError("arguments", fmt.Errorf("expected 3, got %d", len(m.Arguments)))
	}
	ms, ok1 := m.Arguments[0].(int64)
	bpm, ok2 := m.Arguments[1].(float32)
	intensity, ok3 := m.Arguments[2].(float32)
	if !ok1 || !ok2 || !ok3 {
		return ppg.BeatEvent{}, parseError("arguments", fmt.Errorf("want [int64, float32, float32], got %v", m.Arguments))
	}
	return ppg.BeatEvent{
		ChannelID:         id,
		DetectionUnixTime: float64(ms) / 1000,
		BPM:               float64(bpm),
		Intensity:         float64(intensity),
	}, nil
}
