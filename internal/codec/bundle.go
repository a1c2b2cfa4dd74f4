package codec

import (
	"fmt"

	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
)

// A bundle is a tag together with the registry it is compared against:
// magic "TBDL", version, then { 1 tag Tag, 2 registry Registry }.
const bundleMagic = "TBDL"

// MarshalBundle encodes a tag and its registry in one payload.
func MarshalBundle(t typesystem.Tag, r *subtype.Registry) ([]byte, error) {
	if t == nil || r == nil {
		return nil, fmt.Errorf("encoding bundle: nil tag or registry")
	}
	tag, err := encodeTag(t)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle: %w", err)
	}
	reg, err := encodeRegistry(r)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle: %w", err)
	}
	out := writeHeader(bundleMagic, config.EncodingVersion)
	out = appendMessage(out, 1, tag)
	return appendMessage(out, 2, reg), nil
}

// UnmarshalBundle decodes a bundle and validates the tag against the
// registry arities.
func UnmarshalBundle(data []byte) (typesystem.Tag, *subtype.Registry, error) {
	payload, err := readHeader(data, bundleMagic, config.EncodingVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding bundle: %w", err)
	}
	fields, err := parseFields(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding bundle: %w", err)
	}
	var t typesystem.Tag
	var r *subtype.Registry
	for _, f := range fields {
		msg, err := f.message()
		if err != nil {
			return nil, nil, fmt.Errorf("decoding bundle: %w", err)
		}
		switch f.num {
		case 1:
			if t, err = decodeTag(msg); err != nil {
				return nil, nil, fmt.Errorf("decoding bundle: %w", err)
			}
		case 2:
			b, err := decodeRegistry(msg)
			if err != nil {
				return nil, nil, fmt.Errorf("decoding bundle: %w", err)
			}
			if r, err = b.Freeze(); err != nil {
				return nil, nil, fmt.Errorf("decoding bundle: %w", err)
			}
		}
	}
	if t == nil || r == nil {
		return nil, nil, fmt.Errorf("decoding bundle: missing tag or registry")
	}
	if err := typesystem.Validate(t, r.Arities()); err != nil {
		return nil, nil, fmt.Errorf("decoding bundle: %w", err)
	}
	return t, r, nil
}
