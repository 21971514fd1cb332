package ml

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
)

const (
	predictOutputPrefix   = "PREDICT="
	defaultPredictTimeout = 10 * time.Second
)

// SubprocessPredictor scores feature vectors by shelling out to a
// Python inference script. The script receives the model path and a
// comma-joined feature vector and must print a line starting with
// "PREDICT=" followed by a probability in [0,1].
//
// A missing model artifact is a skip, not a failure: Predict returns
// ok=false so the caller can fall back to holding.
type SubprocessPredictor struct {
	interpreter string
	script      string
	timeout     time.Duration
	log         *logger.Logger
}

func NewSubprocessPredictor(script string, log *logger.Logger) *SubprocessPredictor {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &SubprocessPredictor{
		interpreter: "python3",
		script:      script,
		timeout:     defaultPredictTimeout,
		log:         log,
	}
}

// SetInterpreter overrides the executable used to run the script.
func (p *SubprocessPredictor) SetInterpreter(name string) { p.interpreter = name }

// SetTimeout overrides the per-prediction wall-clock budget.
func (p *SubprocessPredictor) SetTimeout(d time.Duration) { p.timeout = d }

// Predict runs one inference. ok=false with a nil error means the
// model artifact is absent and the caller should treat the signal as
// unavailable.
func (p *SubprocessPredictor) Predict(modelPath string, features []float64) (float64, bool, error) {
	if _, err := os.Stat(modelPath); err != nil {
		p.log.Warn("model artifact %s unavailable, skipping prediction", modelPath)
		return 0, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.interpreter, p.script,
		"--model", modelPath,
		"--features", joinFeatures(features))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, false, traderrors.Wrap(traderrors.CategoryML, "predictor", "run",
			fmt.Errorf("%s: %w (stderr: %s)", p.script, err, strings.TrimSpace(stderr.String())))
	}

	prob, err := parsePrediction(&stdout)
	if err != nil {
		return 0, false, err
	}
	return prob, true, nil
}

func parsePrediction(out *bytes.Buffer) (float64, error) {
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, predictOutputPrefix) {
			continue
		}
		prob, err := strconv.ParseFloat(strings.TrimPrefix(line, predictOutputPrefix), 64)
		if err != nil {
			return 0, traderrors.Wrap(traderrors.CategoryML, "predictor", "parse", err)
		}
		return prob, nil
	}
	return 0, traderrors.New(traderrors.CategoryML, "predictor", "parse",
		"no PREDICT= line in script output")
}

func joinFeatures(features []float64) string {
	parts := make([]string, len(features))
	for i, f := range features {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
