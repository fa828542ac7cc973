// Package hnet implements decoding of the Hisense H-NET heat-pump bus protocol.
package hnet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Frame is one H-NET bus message: header bytes, an opcode-specific payload
// and a trailing checksum byte.
type Frame []byte

const (
	// Minimum lengths for the structural gates.
	minChecksumLen = 4  // shortest frame that carries a checksum
	minPayloadLen  = 10 // shortest frame that carries an opcode

	opcodeOffset = 9

	// ControlACK marks a bus acknowledgment; such frames carry no payload.
	ControlACK = 0x06

	// Opcodes of the three known message families.
	OpcodeStatus     = 0xB1
	OpcodeSensorData = 0xB6
	OpcodeSystemInfo = 0xB8
)

// SourceAddress returns the bus address of the sending device.
func (f Frame) SourceAddress() byte { return f[0] }

// ControlByte returns the frame control byte.
func (f Frame) ControlByte() byte { return f[1] }

// MessageLength returns the length byte as transmitted on the bus.
func (f Frame) MessageLength() byte { return f[2] }

// MessageType returns the message type byte.
func (f Frame) MessageType() byte { return f[3] }

// Opcode returns the opcode byte, if the frame is long enough to carry one.
func (f Frame) Opcode() (byte, bool) {
	if len(f) <= opcodeOffset {
		return 0, false
	}
	return f[opcodeOffset], true
}

// Hex renders the frame as space-separated uppercase hex pairs.
func (f Frame) Hex() string {
	var sb strings.Builder
	for i, b := range f {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// ValidateChecksum verifies the trailing checksum byte. The bus algorithm
// XORs every byte except the last, then XORs the source address in a second
// time; since byte 0 is already part of the first pass this cancels it out,
// making validity independent of the source address. The double XOR is what
// real controllers compute, so it must not be simplified.
func (f Frame) ValidateChecksum() bool {
	if len(f) < minChecksumLen {
		return false
	}

	var checksum byte
	for _, b := range f[:len(f)-1] {
		checksum ^= b
	}
	checksum ^= f[0]

	return checksum == f[len(f)-1]
}

// ParsePayload converts an inbound MQTT payload into a Frame. Two shapes are
// accepted: a JSON array of byte values, or a string of hex pairs optionally
// separated by spaces or commas. Multi-token messages (for example capture
// lines with a leading label) contribute only their last token.
func ParsePayload(payload []byte) (Frame, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("empty payload")
	}

	if strings.HasPrefix(text, "[") {
		return parseJSONArray(text)
	}

	// Keep only the last whitespace-separated token, matching the capture
	// format the bus tap produces.
	fields := strings.Fields(text)
	text = fields[len(fields)-1]
	text = strings.ReplaceAll(text, ",", "")

	if len(text)%2 != 0 {
		return nil, fmt.Errorf("hex payload has odd length %d", len(text))
	}

	frame, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("unrecognized payload format: %w", err)
	}
	return Frame(frame), nil
}

func parseJSONArray(text string) (Frame, error) {
	var values []int
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("invalid JSON byte array: %w", err)
	}

	frame := make(Frame, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("byte value %d at index %d out of range", v, i)
		}
		frame[i] = byte(v)
	}
	return frame, nil
}
