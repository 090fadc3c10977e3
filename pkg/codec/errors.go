package codec

import "fmt"

// DecodeReason names the pipeline stage that rejected a token.
type DecodeReason string

const (
	ReasonMalformed           DecodeReason = "malformed"
	ReasonDecryptionFailed    DecodeReason = "decryption-failed"
	ReasonDecompressionFailed DecodeReason = "decompression-failed"
	ReasonVersionUnsupported  DecodeReason = "version-unsupported"
)

// EncodeError is returned when a value cannot be serialized.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a token cannot be turned back into a value.
type DecodeError struct {
	Reason DecodeReason
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode failed: %s", e.Reason)
	}
	return fmt.Sprintf("decode failed: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(reason DecodeReason, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// MigrationError is returned when no registered step covers a required
// version transition.
type MigrationError struct {
	From    int
	To      int
	Missing int
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("migration %d -> %d failed at step %d: %v", e.From, e.To, e.Missing, e.Err)
	}
	return fmt.Sprintf("migration %d -> %d: no step registered from version %d", e.From, e.To, e.Missing)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
