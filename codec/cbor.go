package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR serializes values with fxamacker/cbor. The zero value is not ready to
// use; construct it with NewCBOR or MustCBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = CBOR{}

type CBOROptions struct {
	// Unsorted drops canonical (RFC 8949 Core Deterministic) encoding.
	// The store compares bytes to suppress no-op notifications, so only set
	// it when cached values never contain maps.
	Unsorted bool

	// MaxNestedLevels bounds decode depth. 0 => cbor default (32).
	MaxNestedLevels int
}

// NewCBOR constructs a CBOR codec. Times encode as RFC3339Nano. Decoding is
// strict: duplicate map keys and indefinite lengths are errors, so damaged
// provider bytes fail to decode instead of yielding a partial value.
func NewCBOR(opts CBOROptions) (CBOR, error) {
	eo := cbor.CoreDetEncOptions()
	if opts.Unsorted {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	eo.IndefLength = cbor.IndefLengthForbidden

	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: opts.MaxNestedLevels,
	}.DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR(opts CBOROptions) CBOR {
	c, err := NewCBOR(opts)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c CBOR) Unmarshal(b []byte, v any) error {
	return c.dec.Unmarshal(b, v)
}
