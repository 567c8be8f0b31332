package client

import (
	"fmt"

	"github.com/wilsonlabs/formulaengine/pkg/proto"
)

// legacyParseOptions is the pre-rename snake_case shape some older callers
// still send.
type legacyParseOptions struct {
	Locale              string `json:"locale,omitempty"`
	ReferenceStyle      string `json:"reference_style,omitempty"`
	NormalizeRelativeTo string `json:"normalize_relative_to,omitempty"`
}

// NormalizeParseOptions accepts either of two shapes: opts may be nil,
// a proto.ParseOptions (the canonical shape), a
// map[string]any in either the canonical {localeId, referenceStyle} or
// legacy {locale, reference_style, normalize_relative_to} shape, or a
// legacyParseOptions value. Anything else is rejected synchronously — the
// wire itself never carries anything but the canonical shape; this
// normalization happens at the client boundary only.
func NormalizeParseOptions(opts any) (proto.ParseOptions, error) {
	switch v := opts.(type) {
	case nil:
		return proto.ParseOptions{}, nil
	case proto.ParseOptions:
		return v, nil
	case *proto.ParseOptions:
		if v == nil {
			return proto.ParseOptions{}, nil
		}
		return *v, nil
	case legacyParseOptions:
		return normalizeLegacy(v), nil
	case map[string]any:
		return normalizeMap(v)
	default:
		return proto.ParseOptions{}, fmt.Errorf("options must be { localeId?: string, referenceStyle?: \"A1\"|\"R1C1\" } or the legacy { locale?, reference_style?, normalize_relative_to? } shape, got %T", opts)
	}
}

func normalizeLegacy(v legacyParseOptions) proto.ParseOptions {
	return proto.ParseOptions{LocaleID: v.Locale, ReferenceStyle: v.ReferenceStyle}
}

func normalizeMap(m map[string]any) (proto.ParseOptions, error) {
	_, hasCanonicalLocale := m["localeId"]
	_, hasCanonicalRef := m["referenceStyle"]
	_, hasLegacyLocale := m["locale"]
	_, hasLegacyRef := m["reference_style"]
	_, hasLegacyNorm := m["normalize_relative_to"]

	isCanonical := hasCanonicalLocale || hasCanonicalRef
	isLegacy := hasLegacyLocale || hasLegacyRef || hasLegacyNorm

	if isCanonical && isLegacy {
		return proto.ParseOptions{}, fmt.Errorf("options must be { localeId?: string, referenceStyle?: \"A1\"|\"R1C1\" } or the legacy { locale?, reference_style?, normalize_relative_to? } shape, not a mix of both")
	}

	allowed := map[string]bool{
		"localeId": true, "referenceStyle": true,
		"locale": true, "reference_style": true, "normalize_relative_to": true,
	}
	for k := range m {
		if !allowed[k] {
			return proto.ParseOptions{}, fmt.Errorf("options must be { localeId?: string, referenceStyle?: \"A1\"|\"R1C1\" } or the legacy { locale?, reference_style?, normalize_relative_to? } shape, got unknown key %q", k)
		}
	}

	if isLegacy {
		locale, _ := m["locale"].(string)
		ref, _ := m["reference_style"].(string)
		return proto.ParseOptions{LocaleID: locale, ReferenceStyle: ref}, nil
	}

	localeID, _ := m["localeId"].(string)
	ref, _ := m["referenceStyle"].(string)
	return proto.ParseOptions{LocaleID: localeID, ReferenceStyle: ref}, nil
}
