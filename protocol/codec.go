package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// HeaderSize is the fixed size of every frame's header: 2 bytes version,
// 1 byte packed MessageType, 4 bytes big-endian body length.
const HeaderSize = 7

// MaxBodyLength bounds how large a body_length the codec will trust before
// refusing to allocate for it. 16 MiB is generous for any legitimate topic
// or payload while keeping a corrupt or hostile header from growing a
// receive buffer without limit.
const MaxBodyLength = 16 << 20

func putString(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalidUTF8
	}
	if len(s) > 0xFFFF {
		return nil, ErrEncodingError
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf, nil
}

// getString reads one length-prefixed string starting at offset within a
// frame's body. Per spec.md §2's decode contract, a length-prefixed field
// reading past the body's end is DecodeError, distinct from MalformedFrame
// (reserved for the frame itself being short or body_length disagreeing
// with the available bytes).
func getString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", 0, ErrDecodeError
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+n > len(data) {
		return "", 0, ErrDecodeError
	}
	s := string(data[offset : offset+n])
	if !utf8.ValidString(s) {
		return "", 0, ErrInvalidUTF8
	}
	return s, offset + n, nil
}

// DecodeHeader parses a frame's fixed 7-byte header. It is used on its own
// by the session receive loop's two-stage framing, before the body has
// necessarily arrived.
func DecodeHeader(data []byte) (version uint16, mt MessageType, bodyLength uint32, err error) {
	if len(data) < HeaderSize {
		return 0, 0, 0, ErrMalformedFrame
	}
	version = binary.BigEndian.Uint16(data[0:2])
	mt = MessageType(data[2])
	bodyLength = binary.BigEndian.Uint32(data[3:7])
	return version, mt, bodyLength, nil
}

// Encode renders msg to wire bytes. CONNECT and CONNECTED flags are
// derived from the payload's fields rather than trusted from msg.Type, so
// callers never have to keep flags and fields in sync by hand.
func Encode(msg *Message) ([]byte, error) {
	t := msg.Type.Type()
	if t > Unsubscribed {
		return nil, ErrInvalidMessageType
	}
	if msg.Payload == nil || msg.Payload.messageType() != t {
		return nil, ErrMissingProperty
	}

	body := make([]byte, 0, 16)
	var flags byte
	var err error

	switch p := msg.Payload.(type) {
	case ConnectPayload:
		if p.Disconnect {
			flags = FlagConnectDisconnect
			break
		}
		if p.Username != nil {
			flags |= FlagConnectUsername
			if body, err = putString(body, *p.Username); err != nil {
				return nil, err
			}
		}
		if p.Password != nil {
			flags |= FlagConnectPassword
			if body, err = putString(body, *p.Password); err != nil {
				return nil, err
			}
		}
	case ConnectedPayload:
		if p.DisconnectAck {
			flags = FlagConnectedDisconnectAck
		}
		body = append(body, byte(p.Code))
	case PublishPayload:
		if p.Topic == nil || p.Body == nil {
			return nil, ErrMissingProperty
		}
		if body, err = putString(body, *p.Topic); err != nil {
			return nil, err
		}
		if body, err = putString(body, *p.Body); err != nil {
			return nil, err
		}
	case PublishedPayload:
		body = append(body, byte(p.Code))
	case SubscribePayload:
		if p.Topic == nil {
			return nil, ErrMissingProperty
		}
		if body, err = putString(body, *p.Topic); err != nil {
			return nil, err
		}
	case SubscribedPayload:
		body = append(body, byte(p.Code))
	case UnsubscribePayload:
		if p.Topic == nil {
			return nil, ErrMissingProperty
		}
		if body, err = putString(body, *p.Topic); err != nil {
			return nil, err
		}
	case UnsubscribedPayload:
		body = append(body, byte(p.Code))
	default:
		return nil, ErrMissingProperty
	}

	if len(body) > MaxBodyLength {
		return nil, ErrEncodingError
	}

	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], msg.Version)
	frame[2] = byte(NewMessageType(msg.Type.Origin(), t, flags))
	binary.BigEndian.PutUint32(frame[3:7], uint32(len(body)))
	copy(frame[HeaderSize:], body)

	return frame, nil
}

// Decode parses a complete frame (header plus its declared body) as
// assembled by the session receive loop's two-stage framing.
func Decode(data []byte) (*Message, error) {
	version, mt, bodyLength, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if bodyLength > MaxBodyLength {
		return nil, ErrMalformedFrame
	}
	if uint32(len(data)-HeaderSize) < bodyLength {
		return nil, ErrMalformedFrame
	}
	body := data[HeaderSize : HeaderSize+int(bodyLength)]

	t := mt.Type()
	if t > Unsubscribed {
		return nil, ErrInvalidMessageType
	}

	msg := &Message{Version: version, Type: mt, BodyLength: bodyLength}

	switch t {
	case Connect:
		if mt.Flags()&FlagConnectDisconnect != 0 {
			msg.Payload = ConnectPayload{Disconnect: true}
			return msg, nil
		}
		offset := 0
		var username, password *string
		if mt.Flags()&FlagConnectUsername != 0 {
			s, n, err := getString(body, offset)
			if err != nil {
				return nil, err
			}
			username, offset = &s, n
		}
		if mt.Flags()&FlagConnectPassword != 0 {
			s, n, err := getString(body, offset)
			if err != nil {
				return nil, err
			}
			password, offset = &s, n
		}
		_ = offset
		msg.Payload = ConnectPayload{Username: username, Password: password}

	case Connected:
		if len(body) < 1 {
			return nil, ErrMalformedFrame
		}
		msg.Payload = ConnectedPayload{
			Code:          AckCode(body[0]),
			DisconnectAck: mt.Flags()&FlagConnectedDisconnectAck != 0,
		}

	case Publish:
		topic, n, err := getString(body, 0)
		if err != nil {
			return nil, err
		}
		payload, _, err := getString(body, n)
		if err != nil {
			return nil, err
		}
		msg.Payload = PublishPayload{Topic: &topic, Body: &payload}

	case Published:
		if len(body) < 1 {
			return nil, ErrMalformedFrame
		}
		msg.Payload = PublishedPayload{Code: AckCode(body[0])}

	case Subscribe:
		topic, _, err := getString(body, 0)
		if err != nil {
			return nil, err
		}
		msg.Payload = SubscribePayload{Topic: &topic}

	case Subscribed:
		if len(body) < 1 {
			return nil, ErrMalformedFrame
		}
		msg.Payload = SubscribedPayload{Code: AckCode(body[0])}

	case Unsubscribe:
		topic, _, err := getString(body, 0)
		if err != nil {
			return nil, err
		}
		msg.Payload = UnsubscribePayload{Topic: &topic}

	case Unsubscribed:
		if len(body) < 1 {
			return nil, ErrMalformedFrame
		}
		msg.Payload = UnsubscribedPayload{Code: AckCode(body[0])}
	}

	return msg, nil
}
