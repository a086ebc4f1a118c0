package protocol

import "testing"

// FuzzDecode feeds arbitrary bytes to Decode and requires it never panics,
// mirroring the teacher's FuzzParseFixedHeader: an untrusted frame must
// either decode cleanly or fail with one of the documented sentinel errors,
// never crash the process.
func FuzzDecode(f *testing.F) {
	seeds := [][]byte{
		{},
		{0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0x90, 0x00, 0x00, 0x00, 0x01, 0x00},
		{0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x02, 0x00, 0x03},
		{0x00, 0x00, byte(NewMessageType(OriginClient, Connect, FlagConnectDisconnect)), 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	}

	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := Decode(data)
		if err != nil {
			if msg != nil {
				t.Fatalf("Decode returned a non-nil message alongside error %v", err)
			}
			return
		}

		// A message Decode accepted must itself be re-encodable: Decode
		// should never hand back a Message whose Payload variant Encode
		// then rejects as malformed.
		if _, err := Encode(msg); err != nil {
			t.Fatalf("Decode accepted a frame Encode then rejected: %v", err)
		}
	})
}

// FuzzEncodeDecodeRoundTrip checks the encode-then-decode invariant (spec.md
// invariant 3) against a fuzzed PUBLISH payload, the message kind with the
// widest range of string content.
func FuzzEncodeDecodeRoundTrip(f *testing.F) {
	seeds := []struct {
		topic string
		body  string
	}{
		{"a.b.c", "hello"},
		{"", ""},
		{"topic", "with\x00null"},
	}

	for _, seed := range seeds {
		f.Add(seed.topic, seed.body)
	}

	f.Fuzz(func(t *testing.T, topic string, body string) {
		msg := &Message{
			Version: 1,
			Type:    NewMessageType(OriginClient, Publish, 0),
			Payload: PublishPayload{Topic: &topic, Body: &body},
		}

		frame, err := Encode(msg)
		if err != nil {
			// Invalid UTF-8 or an over-long field is a legitimate rejection,
			// not a bug; anything else is.
			return
		}

		decoded, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode rejected a frame Encode just produced: %v", err)
		}

		payload, ok := decoded.Payload.(PublishPayload)
		if !ok {
			t.Fatalf("decoded payload is not PublishPayload: %T", decoded.Payload)
		}
		if *payload.Topic != topic || *payload.Body != body {
			t.Fatalf("round-trip mismatch: got topic=%q body=%q, want topic=%q body=%q",
				*payload.Topic, *payload.Body, topic, body)
		}
	})
}
