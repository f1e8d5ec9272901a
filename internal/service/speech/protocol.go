package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion of the Volcengine binary websocket framing.
const ProtocolVersion = 0b0001

// MessageType is the high nibble of the second header byte.
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags is the low nibble of the second header byte.
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	// NegativeSequenceNumber marks the last packet and carries a sequence.
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType is the event id carried by WithEvent frames.
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod is the high nibble of the third header byte.
type SerializationMethod uint8

const (
	NoSerialization     SerializationMethod = 0b0000
	JSONSerialization   SerializationMethod = 0b0001
	CustomSerialization SerializationMethod = 0b1111
)

// CompressionMethod is the low nibble of the third header byte.
type CompressionMethod uint8

const (
	NoCompression     CompressionMethod = 0b0000
	GzipCompression   CompressionMethod = 0b0001
	CustomCompression CompressionMethod = 0b1111
)

// Header is the fixed four byte frame header.
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8 // in 4-byte words
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message is one decoded frame.
type Message struct {
	Header      Header
	Sequence    int32
	EventType   EventType
	SessionID   string
	ConnectID   string
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

// NewHeader builds a one-word header.
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          0b0001,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

// Encode packs the header into four bytes.
func (h *Header) Encode() []byte {
	return []byte{
		h.ProtocolVersion<<4 | h.HeaderSize,
		uint8(h.MessageType)<<4 | uint8(h.MessageFlags),
		uint8(h.SerializationMethod)<<4 | uint8(h.CompressionMethod),
		h.Reserved,
	}
}

// DecodeHeader unpacks a four byte header.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("header data too short: got %d, need 4", len(data))
	}

	h := &Header{
		ProtocolVersion:     data[0] >> 4,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType(data[1] >> 4),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod(data[2] >> 4),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}
	if h.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.ProtocolVersion)
	}
	return h, nil
}

func (m *Message) hasSequence() bool {
	switch m.Header.MessageFlags & sequenceMask {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	}
	return false
}

func (m *Message) hasEvent() bool {
	return m.Header.MessageFlags&WithEvent == WithEvent
}

// EncodeMessage serialises a frame: header, optional sequence, optional event
// block, error code for error frames, payload size and payload, all big endian.
func EncodeMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(msg.Header.Encode())

	if msg.hasSequence() {
		writeUint32(&buf, uint32(msg.Sequence))
	}
	if msg.hasEvent() {
		writeUint32(&buf, uint32(msg.EventType))
		if !eventSkipsSessionID(msg.EventType) {
			writeSized(&buf, []byte(msg.SessionID))
		}
		if eventHasConnectID(msg.EventType) {
			writeSized(&buf, []byte(msg.ConnectID))
		}
	}
	if msg.Header.MessageType == ErrorMessage {
		writeUint32(&buf, msg.ErrorCode)
	}

	writeUint32(&buf, msg.PayloadSize)
	buf.Write(msg.Payload)
	return buf.Bytes(), nil
}

// DecodeMessage reads one frame.
func DecodeMessage(r io.Reader) (*Message, error) {
	raw := make([]byte, 4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header, err := DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	msg := &Message{Header: *header}

	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("failed to read extended header: %w", err)
		}
	}

	if msg.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if msg.hasEvent() {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read event type: %w", err)
		}
		msg.EventType = EventType(int32(event))

		if !eventSkipsSessionID(msg.EventType) {
			session, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("failed to read session id: %w", err)
			}
			msg.SessionID = string(session)
		}
		if eventHasConnectID(msg.EventType) {
			connect, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("failed to read connect id: %w", err)
			}
			msg.ConnectID = string(connect)
		}
	}

	if header.MessageType == ErrorMessage {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read error code: %w", err)
		}
		msg.ErrorCode = code
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload size: %w", err)
	}
	msg.PayloadSize = size
	if size > 0 {
		msg.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload (expected %d bytes): %w", size, err)
		}
	}
	return msg, nil
}

// CreateFullClientRequest wraps a JSON request payload.
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// CreateAudioOnlyRequest wraps an audio chunk. The last chunk of a stream
// carries a negated sequence number.
func CreateAudioOnlyRequest(audio []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := NoSequenceNumber
	switch {
	case isLast && sequence != 0:
		flags = NegativeSequenceNumber
		sequence = -sequence
	case isLast:
		flags = LastPacketNoSequence
	case sequence > 0:
		flags = PositiveSequenceNumber
	}

	return &Message{
		Header:      NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence:    sequence,
		PayloadSize: uint32(len(audio)),
		Payload:     audio,
	}
}

// IsLastPacket reports whether the frame closes its stream.
func (m *Message) IsLastPacket() bool {
	switch m.Header.MessageFlags & sequenceMask {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	}
	return false
}

// IsErrorMessage reports whether the frame is a server error.
func (m *Message) IsErrorMessage() bool {
	return m.Header.MessageType == ErrorMessage
}

// Body returns the decompressed payload.
func (m *Message) Body() ([]byte, error) {
	return DecompressPayload(m.Payload, m.Header.CompressionMethod)
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed,
		EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
