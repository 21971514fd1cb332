package strategy

import (
	"encoding/json"
	"fmt"
)

// DefaultParams returns the stock parameter set for a kind.
func DefaultParams(kind Kind) (Params, error) {
	switch kind {
	case KindRsiEma:
		return DefaultRsiEmaParams(), nil
	case KindWindowBreakout:
		return DefaultBreakoutParams(), nil
	case KindFibGrid:
		return DefaultFibGridParams(), nil
	case KindMLModel:
		return DefaultMLModelParams(), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}

// DecodeParams unmarshals a stored JSON parameter set for a kind. An empty
// payload yields the defaults.
func DecodeParams(kind Kind, payload []byte) (Params, error) {
	if len(payload) == 0 {
		return DefaultParams(kind)
	}

	switch kind {
	case KindRsiEma:
		var p RsiEmaParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", kind, err)
		}
		return p, nil
	case KindWindowBreakout:
		var p BreakoutParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", kind, err)
		}
		return p, nil
	case KindFibGrid:
		var p FibGridParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", kind, err)
		}
		return p, nil
	case KindMLModel:
		var p MLModelParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}

// EncodeParams marshals a parameter set for storage.
func EncodeParams(params Params) ([]byte, error) {
	return json.Marshal(params)
}
