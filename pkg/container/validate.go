package container

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/halfstack-audio/gridproj/pkg/container/engines"
)

// Validate runs the pre-commit structural checks over a complete file
// buffer. Every catalogued device-crash signature is reproduced here as a
// rejected condition; encode never returns a buffer this function refuses.
func Validate(data []byte) error {
	raws, err := ScanBlocks(data)
	if err != nil {
		return err
	}
	if len(raws) != NumSlots {
		return fmt.Errorf("%w: %d physical blocks, want %d", ErrAlignmentViolation, len(raws), NumSlots)
	}
	if raws[0].Offset-HandleTableSize < DescriptorOffset {
		return fmt.Errorf("%w: handle table overlaps the header", ErrAlignmentViolation)
	}

	if _, err := DecodeDescriptor(data[DescriptorOffset : raws[0].Offset-HandleTableSize]); err != nil {
		return err
	}

	for i, rb := range raws {
		if err := validateBlock(rb, i); err != nil {
			return err
		}
	}
	return nil
}

func validateBlock(rb RawBlock, index int) error {
	preOff := SignatureSize
	switch rb.Type {
	case TypePristine:
		// The padding invariant: 0x05 iff the 08 00 word follows the
		// signature. Violating it is the top device-crash root cause.
		if len(rb.Raw) < SignatureSize+2 || rb.Raw[8] != 0x08 || rb.Raw[9] != 0x00 {
			return fmt.Errorf("%w: block %d is pristine without the padding word", ErrAlignmentViolation, index)
		}
		preOff += 2
	case TypeActivated:
		if len(rb.Raw) >= SignatureSize+2 && rb.Raw[8] == 0x08 && rb.Raw[9] == 0x00 &&
			!looksLikePreamble(rb.Raw[SignatureSize:]) {
			return fmt.Errorf("%w: block %d is activated but still padded", ErrAlignmentViolation, index)
		}
	}

	pre, err := decodePreamble(rb.Raw[preOff:], rb.Offset+preOff, index)
	if err != nil {
		return err
	}
	if pre.Role != RoleClone {
		if c := int(pre.Count); c < 1 || c > MaxPatterns {
			return fmt.Errorf("%w: block %d leader count %d", ErrUnknownPreambleState, index, c)
		}
	}

	body := rb.Raw[preOff+PreambleSize:]
	return validateBodyEvents(body, index)
}

// validateBodyEvents re-decodes any recognizable event section and applies
// the crash-signature catalog to it.
func validateBodyEvents(body []byte, index int) error {
	check := func(at int) error {
		evs, _, _, err := DecodeEvents(body[at:])
		if err != nil {
			return nil // no section here, body stays opaque
		}
		if err := checkCrashSignatures(evs); err != nil {
			return fmt.Errorf("block %d: %w", index, err)
		}
		return nil
	}

	if len(body) > 0 {
		if off := engines.InsertOffset(body[0]); off != engines.InsertAppend {
			if off < len(body) && KnownFamily(body[off]) {
				return check(off)
			}
			return nil
		}
	}
	for i := len(body) - 1; i >= 0; i-- {
		if !KnownFamily(body[i]) {
			continue
		}
		evs, n, _, err := DecodeEvents(body[i:])
		if err != nil || i+n != len(body) {
			continue
		}
		if err := checkCrashSignatures(evs); err != nil {
			return fmt.Errorf("block %d: %w", index, err)
		}
		return nil
	}
	return nil
}

// VerifyRoundTrip decodes a buffer, re-encodes it without modification, and
// confirms the bytes reproduce exactly. Used by the validation and test
// layers, never by production encode.
func VerifyRoundTrip(data []byte) error {
	p, err := Decode(data)
	if err != nil {
		return err
	}
	out, err := Encode(p)
	if err != nil {
		return err
	}
	if !bytes.Equal(out, data) {
		i := 0
		for i < len(out) && i < len(data) && out[i] == data[i] {
			i++
		}
		return fmt.Errorf("%w: first divergence at offset 0x%X (%d vs %d bytes)",
			ErrRoundTripMismatch, i, len(out), len(data))
	}
	return nil
}

// Outcome is a recorded device result for a generated file.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeCrash Outcome = "crash"
)

// Oracle is the read-only regression store the validator's test layer
// consults: device outcomes keyed by file content hash. The core never
// writes to it and never consults it during production encode or decode.
type Oracle interface {
	Outcome(sum [sha256.Size]byte) (Outcome, bool)
}

// CheckOracle compares a buffer against a recorded device outcome, if one
// exists. A buffer the device crashed on must already be refused by
// Validate; a disagreement means the crash catalog is missing a signature.
func CheckOracle(o Oracle, data []byte) error {
	if o == nil {
		return nil
	}
	outcome, ok := o.Outcome(sha256.Sum256(data))
	if !ok {
		return nil
	}
	err := Validate(data)
	switch {
	case outcome == OutcomeCrash && err == nil:
		return fmt.Errorf("%w: device crashed on this file but validation passes", ErrCrashPattern)
	case outcome == OutcomePass && err != nil:
		return fmt.Errorf("validation rejects a device-verified file: %w", err)
	}
	return nil
}
