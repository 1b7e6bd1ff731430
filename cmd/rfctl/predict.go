package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/rfcore/internal/forest"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
)

func newPredictCommand() *cobra.Command {
	var modelDir, modelName, row, datasetPath string
	var numFeatures int
	var withVotes bool

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify one feature row against a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			var x []float32
			var err error
			switch {
			case row != "":
				x, err = parseRow(row)
			case datasetPath != "":
				if numFeatures <= 0 {
					return configErr(errors.New("--num_features is required with --dataset"))
				}
				x, err = readFirstDataRow(datasetPath, numFeatures)
			default:
				return configErr(errors.New("one of --row or --dataset is required"))
			}
			if err != nil {
				return configErr(err)
			}
			return runPredict(cmd.OutOrStdout(), modelDir, modelName, x, withVotes)
		},
	}
	cmd.Flags().StringVar(&modelDir, "model_dir", ".", "directory holding the saved model's three files")
	cmd.Flags().StringVar(&modelName, "model_name", "model", "model name prefix used by train")
	cmd.Flags().StringVar(&row, "row", "", "comma-separated raw feature values")
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "raw-feature CSV to take the first data row from, instead of --row")
	cmd.Flags().IntVar(&numFeatures, "num_features", 0, "feature count, required with --dataset")
	cmd.Flags().BoolVar(&withVotes, "votes", false, "also print the per-label vote tally")
	return cmd
}

func parseRow(row string) ([]float32, error) {
	fields := strings.Split(row, ",")
	x := make([]float32, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, errors.Wrapf(err, "rfctl: row value %d %q", i, field)
		}
		x[i] = float32(v)
	}
	return x, nil
}

func runPredict(w io.Writer, modelDir, modelName string, x []float32, withVotes bool) error {
	ctx := platform.NewHostContext(nil, 0, platform.DebugLevel(debugLevel))

	rf, err := forest.Load(modelDir, modelName)
	if err != nil {
		return verificationErr(errors.Wrap(err, "rfctl: load model"))
	}

	result, err := rf.Predict(x, withVotes)
	if err != nil {
		return configErr(errors.Wrap(err, "rfctl: predict"))
	}
	ctx.Debug.Tracef("rfctl: predict label=%d elapsed_us=%d", result.Label, result.ElapsedMicros)

	fmt.Fprintf(w, "label=%d name=%s elapsed_us=%d\n", result.Label, result.LabelName, result.ElapsedMicros)
	if withVotes {
		fmt.Fprintf(w, "votes=%v\n", result.Votes)
	}
	return nil
}

// readFirstDataRow reads a single data row (skipping the header) from a
// raw-feature CSV, for callers that want to predict against a dataset
// file rather than an inline --row flag.
func readFirstDataRow(path string, numFeatures int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "rfctl: open row file")
	}
	defer f.Close()

	cr := csv.NewReader(f)
	if _, err := cr.Read(); err != nil { // header
		return nil, errors.Wrap(err, "rfctl: read row file header")
	}
	rec, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "rfctl: read row file data row")
	}
	x := make([]float32, numFeatures)
	for i := 0; i < numFeatures; i++ {
		v, err := strconv.ParseFloat(rec[i], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "rfctl: feature %d value %q", i, rec[i])
		}
		x[i] = float32(v)
	}
	return x, nil
}
