package codec

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// EnvelopeVersion is the only envelope layout this package produces.
// It changes only when the header layout itself changes.
const EnvelopeVersion byte = 1

const envelopeHeaderSize = 2

// Flags records which stages were applied to an envelope payload.
type Flags byte

const (
	FlagCompressed Flags = 1 << 0
	FlagEncrypted  Flags = 1 << 1

	knownFlags = FlagCompressed | FlagEncrypted
)

func (f Flags) Compressed() bool { return f&FlagCompressed != 0 }
func (f Flags) Encrypted() bool  { return f&FlagEncrypted != 0 }

func (f Flags) String() string {
	var parts []string
	if f.Compressed() {
		parts = append(parts, "compressed")
	}
	if f.Encrypted() {
		parts = append(parts, "encrypted")
	}
	if len(parts) == 0 {
		return "plain"
	}
	return strings.Join(parts, "+")
}

// Envelope is the self-describing container every token carries:
//
//	[version:1][flags:1][payload:N]
//
// Decoding reads the pipeline from Flags alone.
type Envelope struct {
	Version byte
	Flags   Flags
	Payload []byte
}

// Bytes returns the binary layout of the envelope.
func (e *Envelope) Bytes() []byte {
	out := make([]byte, envelopeHeaderSize+len(e.Payload))
	out[0] = e.Version
	out[1] = byte(e.Flags)
	copy(out[envelopeHeaderSize:], e.Payload)
	return out
}

// header is the [version][flags] prefix. Encrypted payloads bind it as
// associated data, so a flipped flag fails authentication.
func (e *Envelope) header() []byte {
	return []byte{e.Version, byte(e.Flags)}
}

// String returns the URL-safe token form of the envelope.
func (e *Envelope) String() string {
	return base64.RawURLEncoding.EncodeToString(e.Bytes())
}

// ParseEnvelope reads the binary layout produced by Envelope.Bytes.
// An unknown version is reported separately from a damaged header.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) < envelopeHeaderSize {
		return nil, decodeError(ReasonMalformed, "envelope is %d bytes, need at least %d", len(data), envelopeHeaderSize)
	}

	version := data[0]
	if version != EnvelopeVersion {
		return nil, decodeError(ReasonVersionUnsupported, "envelope version %d is not supported (expected %d)", version, EnvelopeVersion)
	}

	flags := Flags(data[1])
	if flags&^knownFlags != 0 {
		return nil, decodeError(ReasonMalformed, "unknown envelope flags 0x%02x", byte(flags&^knownFlags))
	}

	payload := make([]byte, len(data)-envelopeHeaderSize)
	copy(payload, data[envelopeHeaderSize:])

	return &Envelope{Version: version, Flags: flags, Payload: payload}, nil
}

// ParseToken undoes URL escaping and base64url encoding, then parses the
// envelope. Padded and unpadded base64 are both accepted.
func ParseToken(token string) (*Envelope, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, decodeError(ReasonMalformed, "empty token")
	}

	if strings.Contains(token, "%") {
		unescaped, err := url.QueryUnescape(token)
		if err != nil {
			return nil, decodeError(ReasonMalformed, "url unescape: %v", err)
		}
		token = unescaped
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, decodeError(ReasonMalformed, "base64: %v", err)
	}

	return ParseEnvelope(raw)
}
