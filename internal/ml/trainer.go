package ml

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
)

const metricsOutputPrefix = "METRICS="

// Metrics summarizes one training run as reported by the script.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	AUC       float64 `json:"auc"`
}

// Trainer retrains the model by running a Python training script. The
// script must print a line "METRICS={...}" with a JSON object carrying
// the evaluation metrics.
type Trainer struct {
	interpreter string
	script      string
	log         *logger.Logger
}

func NewTrainer(script string, log *logger.Logger) *Trainer {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Trainer{interpreter: "python3", script: script, log: log}
}

// SetInterpreter overrides the executable used to run the script.
func (t *Trainer) SetInterpreter(name string) { t.interpreter = name }

// Train runs one training round over dataPath, writing the refreshed
// model to modelOut. Training is long-running, so cancellation comes
// from the caller's context rather than a fixed timeout.
func (t *Trainer) Train(ctx context.Context, dataPath, modelOut string) (Metrics, error) {
	cmd := exec.CommandContext(ctx, t.interpreter, t.script,
		"--data", dataPath,
		"--out", modelOut)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Metrics{}, traderrors.Wrap(traderrors.CategoryML, "trainer", "run",
			fmt.Errorf("%s: %w (stderr: %s)", t.script, err, strings.TrimSpace(stderr.String())))
	}

	metrics, err := parseMetrics(&stdout)
	if err != nil {
		return Metrics{}, err
	}
	t.log.Info("training done: accuracy %.3f, precision %.3f, recall %.3f, auc %.3f",
		metrics.Accuracy, metrics.Precision, metrics.Recall, metrics.AUC)
	return metrics, nil
}

func parseMetrics(out *bytes.Buffer) (Metrics, error) {
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, metricsOutputPrefix) {
			continue
		}
		var metrics Metrics
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, metricsOutputPrefix)), &metrics); err != nil {
			return Metrics{}, traderrors.Wrap(traderrors.CategoryML, "trainer", "parse", err)
		}
		return metrics, nil
	}
	return Metrics{}, traderrors.New(traderrors.CategoryML, "trainer", "parse",
		"no METRICS= line in script output")
}
