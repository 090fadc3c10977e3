// Package codec turns JSON-serializable values into compact URL-safe
// tokens and back.
//
// Every token is a base64url envelope that records which stages were
// applied:
//
//	value -> canonical JSON -> [schema][json] -> compress? -> encrypt? -> [version][flags][payload]
//
// Decoding reads the stages from the envelope flags only, so a token
// decodes the same way no matter which settings the caller remembers.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// DefaultURLBudget is the practical query-string budget for a token.
const DefaultURLBudget = 2000

// Options configure a Codec.
type Options struct {
	// Keys seals and opens encrypted tokens when the caller passes no
	// password. When nil, New uses a key generated in memory on first use:
	// one key per Codec, gone when the process exits. Tokens that must
	// outlive the process need a password or a persistent KeyStore.
	Keys KeyProvider
	// Migrator upgrades values written under an older schema version.
	Migrator *Migrator
}

// EncodeOptions select the pipeline stages for one token.
type EncodeOptions struct {
	Compress  bool
	Algorithm Algorithm
	Encrypt   bool
	Password  string
}

// DecodeOptions carry secrets only; the pipeline comes from the token.
type DecodeOptions struct {
	Password string
}

// Codec is safe for concurrent use.
type Codec struct {
	keys     KeyProvider
	migrator *Migrator
}

func New(opts Options) *Codec {
	keys := opts.Keys
	if keys == nil {
		keys = GeneratedKey(NewMemoryKeyStore())
	}
	return &Codec{
		keys:     keys,
		migrator: opts.Migrator,
	}
}

// SchemaVersion is the schema version stamped into new tokens.
func (c *Codec) SchemaVersion() int {
	return c.migrator.CurrentVersion()
}

// Canonicalize serializes value as compact JSON with sorted map keys and
// without HTML escaping.
func Canonicalize(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Encode produces a token for value.
func (c *Codec) Encode(value any, opts EncodeOptions) (string, error) {
	doc, err := Canonicalize(value)
	if err != nil {
		return "", &EncodeError{Err: err}
	}

	body := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(doc)), uint64(c.SchemaVersion()))
	body = append(body, doc...)

	env := &Envelope{Version: EnvelopeVersion}
	payload := body

	if opts.Compress {
		algorithm := opts.Algorithm
		if algorithm == "" || algorithm == AlgorithmNone {
			algorithm = AlgorithmFast
		}
		payload, err = Compress(payload, algorithm)
		if err != nil {
			return "", fmt.Errorf("compress: %w", err)
		}
		env.Flags |= FlagCompressed
	}

	if opts.Encrypt {
		env.Flags |= FlagEncrypted
		payload, err = sealPayload(payload, c.keyProvider(opts.Password), env.header())
		if err != nil {
			return "", fmt.Errorf("encrypt: %w", err)
		}
	}

	env.Payload = payload
	return env.String(), nil
}

// Decode returns the value held by token, migrated to the current schema.
// Objects decode as map[string]any and numbers as float64.
func (c *Codec) Decode(token string, opts DecodeOptions) (any, error) {
	doc, err := c.open(token, opts)
	if err != nil {
		return nil, err
	}
	return c.migrate(doc)
}

// DecodeInto decodes token into out, which must be a pointer.
func (c *Codec) DecodeInto(token string, out any, opts DecodeOptions) error {
	value, err := c.Decode(token, opts)
	if err != nil {
		return err
	}

	doc, err := json.Marshal(value)
	if err != nil {
		return &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	return nil
}

// TokenInfo describes a token without decrypting it.
type TokenInfo struct {
	Version     byte
	Flags       Flags
	TokenLength int
	PayloadSize int
}

// Inspect reads the envelope header of token.
func Inspect(token string) (*TokenInfo, error) {
	env, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	return &TokenInfo{
		Version:     env.Version,
		Flags:       env.Flags,
		TokenLength: len(token),
		PayloadSize: len(env.Payload),
	}, nil
}

// FitsInURL reports whether token stays within budget once
// query-escaped. A budget <= 0 uses DefaultURLBudget.
func FitsInURL(token string, budget int) bool {
	if budget <= 0 {
		budget = DefaultURLBudget
	}
	// base64url output needs no escaping; padding would.
	escaped := len(token) + 2*bytes.Count([]byte(token), []byte("="))
	return escaped <= budget
}

type decodedBody struct {
	schema int
	value  any
}

func (c *Codec) open(token string, opts DecodeOptions) (*decodedBody, error) {
	env, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	payload := env.Payload

	if env.Flags.Encrypted() {
		payload, err = openPayload(payload, c.keyProvider(opts.Password), env.header())
		if err != nil {
			return nil, err
		}
	}

	if env.Flags.Compressed() {
		if len(payload) == 0 || (payload[0] != tagLZ4 && payload[0] != tagZstd) {
			return nil, decodeError(ReasonDecompressionFailed, "payload carries no compression tag")
		}
		payload, err = Decompress(payload)
		if err != nil {
			return nil, &DecodeError{Reason: ReasonDecompressionFailed, Err: err}
		}
	}

	schema, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, decodeError(ReasonMalformed, "missing schema version")
	}
	if schema > math.MaxInt32 {
		return nil, decodeError(ReasonVersionUnsupported, "schema version %d is out of range", schema)
	}

	var value any
	if err := json.Unmarshal(payload[n:], &value); err != nil {
		return nil, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	return &decodedBody{schema: int(schema), value: value}, nil
}

func (c *Codec) migrate(doc *decodedBody) (any, error) {
	current := c.SchemaVersion()
	switch {
	case doc.schema == current:
		return doc.value, nil
	case doc.schema > current:
		return nil, decodeError(ReasonVersionUnsupported, "schema version %d is newer than supported version %d", doc.schema, current)
	default:
		return c.migrator.Migrate(doc.value, doc.schema, current)
	}
}

func (c *Codec) keyProvider(password string) KeyProvider {
	if password != "" {
		return PasswordKey(password)
	}
	return c.keys
}
