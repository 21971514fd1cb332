package strategy

import "trader-engine/pkg/types"

// MLModelParams configures the probability-threshold strategy backed by an
// external inference model.
type MLModelParams struct {
	ModelPath     string  `json:"model_path"`
	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`
	FeatureBars   int     `json:"feature_bars"`
}

func (MLModelParams) Kind() Kind { return KindMLModel }

// DefaultMLModelParams returns the stock parameter set.
func DefaultMLModelParams() MLModelParams {
	return MLModelParams{
		ModelPath:     "models/model.pkl",
		BuyThreshold:  0.6,
		SellThreshold: 0.4,
		FeatureBars:   50,
	}
}

// Predictor is the inference collaborator. Predict returns the BUY
// probability for the feature vector; ok=false is the SKIP sentinel for a
// missing or unreadable model artifact and must not be treated as an error.
type Predictor interface {
	Predict(modelPath string, features []float64) (prob float64, ok bool, err error)
}

// MLModel extracts the close prices of the feature window, delegates to the
// Predictor and thresholds the returned probability. Any failure of the
// inference collaborator degrades to HOLD; this strategy never errors.
type MLModel struct {
	predictor Predictor
}

// NewMLModel creates the ML-probability strategy around an inference
// collaborator.
func NewMLModel(predictor Predictor) *MLModel {
	return &MLModel{predictor: predictor}
}

func (*MLModel) Kind() Kind { return KindMLModel }

func (*MLModel) MinBars(params Params) int {
	p, ok := params.(MLModelParams)
	if !ok {
		return 0
	}
	return p.FeatureBars
}

func (s *MLModel) Evaluate(history []types.Candle, params Params) Signal {
	p, ok := params.(MLModelParams)
	if !ok || s.predictor == nil || p.FeatureBars <= 0 || len(history) < p.FeatureBars {
		return SignalHold
	}

	features := types.Closes(history[len(history)-p.FeatureBars:])

	prob, ok, err := s.predictor.Predict(p.ModelPath, features)
	if err != nil || !ok {
		return SignalHold
	}

	if prob > p.BuyThreshold {
		return SignalBuy
	}
	if prob < p.SellThreshold {
		return SignalSell
	}
	return SignalHold
}
