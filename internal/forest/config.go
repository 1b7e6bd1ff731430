// Package forest owns a trained ensemble of trees over one quantizer
// (spec §4.8): bootstrap construction with out-of-bag tracking, vote
// aggregation at predict time, and the forest's two-file persistence
// format (_config.json side-file, _forest.bin binary blob).
package forest

import (
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Config is the forest's JSON side-file (spec §6): training
// hyperparameters, the label bimap (by name, id-ordered), and training
// metrics.
type Config struct {
	NumFeatures             int       `json:"num_features"`
	NumLabels               int       `json:"num_labels"`
	QuantizationCoefficient int       `json:"quantization_coefficient"`
	NumTrees                int       `json:"num_trees"`
	Mtry                    int       `json:"mtry"`
	MaxDepth                int       `json:"max_depth"`
	MinLeaf                 int       `json:"min_leaf"`
	LabelNames              []string  `json:"label_names"`
	OOBScore                float64   `json:"oob_score"`
	BestTrainingScore       float64   `json:"best_training_score"`
	BuiltAt                 time.Time `json:"built_at"`
}

// SaveConfig writes c as UTF-8 JSON.
func SaveConfig(w io.Writer, c *Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "forest: encode config")
	}
	return nil
}

// LoadConfig reads a Config written by SaveConfig.
func LoadConfig(r io.Reader) (*Config, error) {
	var c Config
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "forest: decode config")
	}
	if c.NumFeatures <= 0 || c.NumLabels <= 0 {
		return nil, errors.Errorf("forest: invalid config num_features=%d num_labels=%d", c.NumFeatures, c.NumLabels)
	}
	if c.QuantizationCoefficient < 1 || c.QuantizationCoefficient > 8 {
		return nil, errors.Errorf("forest: invalid quantization_coefficient=%d", c.QuantizationCoefficient)
	}
	return &c, nil
}
