package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// runConfig is the --config JSON file's shape: where the training CSV
// lives, the quantizer/forest hyperparameters, and where to write or read
// the saved model's three files.
type runConfig struct {
	DatasetPath             string   `json:"dataset_path"`
	ModelDir                string   `json:"model_dir"`
	ModelName               string   `json:"model_name"`
	NumFeatures             int      `json:"num_features"`
	NumLabels               int      `json:"num_labels"`
	QuantizationCoefficient int      `json:"quantization_coefficient"`
	NumTrees                int      `json:"num_trees"`
	Mtry                    int      `json:"mtry"`
	MaxDepth                int      `json:"max_depth"`
	MinLeaf                 int      `json:"min_leaf"`
	PartialLoadLimit        int      `json:"partial_load_limit"`
	LabelNames              []string `json:"label_names"`
	Seed                    uint64   `json:"seed"`
}

func loadRunConfig(path string) (*runConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "rfctl: open config file")
	}
	defer f.Close()

	var cfg runConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "rfctl: parse config file")
	}
	if cfg.DatasetPath == "" {
		return nil, errors.New("rfctl: config is missing dataset_path")
	}
	if cfg.NumFeatures <= 0 || cfg.NumLabels <= 0 {
		return nil, errors.Errorf("rfctl: config has invalid num_features=%d num_labels=%d", cfg.NumFeatures, cfg.NumLabels)
	}
	if cfg.QuantizationCoefficient <= 0 {
		cfg.QuantizationCoefficient = 4
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "."
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "model"
	}
	return &cfg, nil
}
