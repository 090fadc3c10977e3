// Package autoconfig derives a compression, encryption and placement plan
// for a value from its serialized size and field names.
package autoconfig

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/go-playground/validator/v10"

	"slugstate/pkg/codec"
)

const (
	DefaultCompressThreshold = 1 << 10
	DefaultStrongThreshold   = 10 << 10
)

// DefaultSensitiveTerms is the denylist matched against field names and
// string values.
var DefaultSensitiveTerms = []string{
	"password", "passwd", "token", "secret", "key", "auth",
	"credential", "ssn", "card", "cvv", "pin", "private",
}

// Policy holds the thresholds Analyze works with.
type Policy struct {
	CompressThreshold int      `json:"compress_threshold" yaml:"compress_threshold" validate:"gte=0"`
	StrongThreshold   int      `json:"strong_threshold" yaml:"strong_threshold" validate:"gtefield=CompressThreshold"`
	URLBudget         int      `json:"url_budget" yaml:"url_budget" validate:"gt=0"`
	SensitiveTerms    []string `json:"sensitive_terms" yaml:"sensitive_terms" validate:"dive,required"`
}

var validate = validator.New()

func DefaultPolicy() *Policy {
	return &Policy{
		CompressThreshold: DefaultCompressThreshold,
		StrongThreshold:   DefaultStrongThreshold,
		URLBudget:         codec.DefaultURLBudget,
		SensitiveTerms:    append([]string(nil), DefaultSensitiveTerms...),
	}
}

func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

// Plan is the recommendation for one value. It is never mutated after
// Analyze returns it.
type Plan struct {
	ShouldCompress       bool            `json:"should_compress"`
	ShouldEncrypt        bool            `json:"should_encrypt"`
	CompressionAlgorithm codec.Algorithm `json:"compression_algorithm"`
	PersistInURL         bool            `json:"persist_in_url"`
	PersistOffline       bool            `json:"persist_offline"`
	Reasoning            []string        `json:"reasoning"`
	SerializedSize       int             `json:"serialized_size"`
	EstimatedTokenLength int             `json:"estimated_token_length"`
	SensitiveFields      []string        `json:"sensitive_fields,omitempty"`
}

// Analyze runs the default policy.
func Analyze(value any) (*Plan, error) {
	return DefaultPolicy().Analyze(value)
}

// Analyze inspects value and returns a fresh Plan. It is pure: the same
// value always yields the same Plan. The token length estimate assumes
// schema version 0.
func (p *Policy) Analyze(value any) (*Plan, error) {
	return p.AnalyzeSchema(value, 0)
}

// AnalyzeSchema is Analyze for a codec that stamps tokens with schema.
func (p *Policy) AnalyzeSchema(value any, schema int) (*Plan, error) {
	doc, err := codec.Canonicalize(value)
	if err != nil {
		return nil, &codec.EncodeError{Err: err}
	}

	plan := &Plan{
		CompressionAlgorithm: codec.AlgorithmNone,
		SerializedSize:       len(doc),
	}

	switch {
	case plan.SerializedSize >= p.StrongThreshold:
		plan.ShouldCompress = true
		plan.CompressionAlgorithm = codec.AlgorithmStrong
		plan.because("payload is %d bytes (>= %d), using strong compression", plan.SerializedSize, p.StrongThreshold)
	case plan.SerializedSize >= p.CompressThreshold:
		plan.ShouldCompress = true
		plan.CompressionAlgorithm = codec.AlgorithmFast
		plan.because("payload is %d bytes (>= %d), using fast compression", plan.SerializedSize, p.CompressThreshold)
	default:
		plan.because("payload is %d bytes, below the %d byte compression threshold", plan.SerializedSize, p.CompressThreshold)
	}

	plan.SensitiveFields = findSensitive(doc, p.SensitiveTerms)
	if len(plan.SensitiveFields) > 0 {
		plan.ShouldEncrypt = true
		plan.because("sensitive fields detected (%s), encryption required", joinFields(plan.SensitiveFields))
	}

	plan.EstimatedTokenLength, err = estimateTokenLength(doc, schema, plan)
	if err != nil {
		return nil, err
	}

	fitsURL := plan.EstimatedTokenLength <= p.URLBudget
	switch {
	case plan.ShouldEncrypt:
		plan.PersistInURL = false
		plan.because("sensitive data is never placed in a shareable URL")
	case fitsURL:
		plan.PersistInURL = true
		plan.because("estimated token length %d fits the %d character URL budget", plan.EstimatedTokenLength, p.URLBudget)
	default:
		plan.because("estimated token length %d exceeds the %d character URL budget", plan.EstimatedTokenLength, p.URLBudget)
	}

	plan.PersistOffline = !fitsURL || plan.ShouldEncrypt
	if plan.PersistOffline {
		plan.because("state is not safely shareable by URL, persisting offline")
	}

	return plan, nil
}

func (pl *Plan) because(format string, args ...any) {
	pl.Reasoning = append(pl.Reasoning, fmt.Sprintf(format, args...))
}

// estimateTokenLength compresses the body the way Encode would, so the
// estimate matches the real token length.
func estimateTokenLength(doc []byte, schema int, plan *Plan) (int, error) {
	body := binary.AppendUvarint(nil, uint64(schema))
	body = append(body, doc...)

	payload := body
	if plan.ShouldCompress {
		compressed, err := codec.Compress(body, plan.CompressionAlgorithm)
		if err != nil {
			return 0, err
		}
		payload = compressed
	}

	size := 2 + len(payload)
	if plan.ShouldEncrypt {
		size += codec.SaltSize + codec.IVSize + codec.TagSize
	}
	return base64.RawURLEncoding.EncodedLen(size), nil
}
