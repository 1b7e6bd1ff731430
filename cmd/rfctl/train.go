package main

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/rfcore/internal/alloc"
	"github.com/viettran-edgeAI/rfcore/internal/dataset"
	"github.com/viettran-edgeAI/rfcore/internal/forest"
	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/quantizer"
)

func newTrainCommand() *cobra.Command {
	var configPath string
	var threads int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build a forest from a raw-feature CSV and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return configErr(errors.New("--config is required"))
			}
			cfg, err := loadRunConfig(configPath)
			if err != nil {
				return configErr(err)
			}
			return runTrain(cfg, threads)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the training config JSON file")
	cmd.Flags().IntVar(&threads, "threads", 1, "host-only: any value above 1 trains every tree on its own goroutine; the value is not a concurrency limit")
	return cmd
}

func runTrain(cfg *runConfig, threads int) error {
	f, err := os.Open(cfg.DatasetPath)
	if err != nil {
		return ioErr(errors.Wrap(err, "rfctl: open dataset"))
	}
	defer f.Close()

	q, labels, err := fitQuantizer(f, cfg)
	if err != nil {
		return configErr(err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ioErr(errors.Wrap(err, "rfctl: rewind dataset"))
	}
	store, err := quantizeIntoStore(f, q, labels, cfg)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	ctx := platform.NewHostContext(nil, seed, platform.DebugLevel(debugLevel))

	rf := forest.NewWithContext(q, labels, ctx.Alloc, alloc.Any, ctx.Debug)
	fcfg := &forest.Config{
		NumFeatures:             cfg.NumFeatures,
		NumLabels:               labels.Len(),
		QuantizationCoefficient: cfg.QuantizationCoefficient,
		NumTrees:                cfg.NumTrees,
		Mtry:                    cfg.Mtry,
		MaxDepth:                cfg.MaxDepth,
		MinLeaf:                 cfg.MinLeaf,
	}
	if fcfg.NumTrees <= 0 {
		fcfg.NumTrees = 50
	}

	if err := rf.Build(store, fcfg, ctx.Entropy, time.Time{}, threads > 1); err != nil {
		if store.Mode() == dataset.Partial || errors.Is(err, alloc.ErrOutOfMemory) {
			return oomErr(errors.Wrap(err, "rfctl: build in partial-loading mode"))
		}
		return verificationErr(errors.Wrap(err, "rfctl: build forest"))
	}

	if err := rf.Save(cfg.ModelDir, cfg.ModelName); err != nil {
		return ioErr(errors.Wrap(err, "rfctl: save model"))
	}
	return nil
}

// fitQuantizer scans the raw CSV once to derive each feature's observed
// min/max, building a FullLinear quantizer over cfg.NumFeatures/K (spec
// §4.6). The label bimap is seeded from cfg.LabelNames when given, else
// built up from whatever names/ids the CSV itself uses.
func fitQuantizer(r io.Reader, cfg *runConfig) (*quantizer.Quantizer, *dataset.LabelBimap, error) {
	q, err := quantizer.New(cfg.NumFeatures, max1(cfg.NumLabels), cfg.QuantizationCoefficient)
	if err != nil {
		return nil, nil, err
	}
	labels := dataset.NewLabelBimap()
	if len(cfg.LabelNames) > 0 {
		labels = dataset.FromNames(cfg.LabelNames)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = cfg.NumFeatures + 1
	if _, err := cr.Read(); err != nil { // header
		return nil, nil, errors.Wrap(err, "rfctl: read dataset header")
	}

	mins := make([]float32, cfg.NumFeatures)
	maxs := make([]float32, cfg.NumFeatures)
	for i := range mins {
		mins[i] = float32(math.Inf(1))
		maxs[i] = float32(math.Inf(-1))
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "rfctl: read dataset row")
		}
		for i := 0; i < cfg.NumFeatures; i++ {
			v, err := strconv.ParseFloat(rec[i], 32)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "rfctl: feature %d value %q", i, rec[i])
			}
			fv := float32(v)
			if fv < mins[i] {
				mins[i] = fv
			}
			if fv > maxs[i] {
				maxs[i] = fv
			}
		}
		if len(cfg.LabelNames) == 0 {
			if _, err := strconv.Atoi(rec[cfg.NumFeatures]); err == nil {
				for labels.Len() <= mustAtoi(rec[cfg.NumFeatures]) {
					labels.Add(strconv.Itoa(labels.Len()))
				}
			} else {
				labels.Add(rec[cfg.NumFeatures])
			}
		}
	}

	for i := range q.Rules {
		lo, hi := mins[i], maxs[i]
		if hi <= lo {
			hi = lo + 1
		}
		q.Rules[i] = quantizer.FeatureRule{Type: quantizer.FullLinear, FMin: lo, FMax: hi}
	}
	return q, labels, nil
}

// quantizeIntoStore re-reads the raw CSV, quantizes each row through q,
// and appends it to a fresh Store.
func quantizeIntoStore(r io.Reader, q *quantizer.Quantizer, labels *dataset.LabelBimap, cfg *runConfig) (*dataset.Store, error) {
	store := dataset.NewPartial(cfg.NumFeatures, cfg.QuantizationCoefficient, cfg.PartialLoadLimit)
	store.SetLabelCount(max1(labels.Len()))

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = cfg.NumFeatures + 1
	if _, err := cr.Read(); err != nil { // header
		return nil, ioErr(errors.Wrap(err, "rfctl: read dataset header"))
	}

	x := make([]float32, cfg.NumFeatures)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ioErr(errors.Wrap(err, "rfctl: read dataset row"))
		}
		for i := 0; i < cfg.NumFeatures; i++ {
			v, err := strconv.ParseFloat(rec[i], 32)
			if err != nil {
				return nil, ioErr(errors.Wrapf(err, "rfctl: feature %d value %q", i, rec[i]))
			}
			x[i] = float32(v)
		}
		bins, _, err := q.Encode(x)
		if err != nil {
			return nil, verificationErr(errors.Wrap(err, "rfctl: quantize row"))
		}
		label := resolveLabel(rec[cfg.NumFeatures], labels)
		if err := store.AppendRow(bins, label); err != nil {
			return nil, ioErr(errors.Wrap(err, "rfctl: append row"))
		}
	}
	return store, nil
}

func resolveLabel(field string, labels *dataset.LabelBimap) int {
	if id, err := strconv.Atoi(field); err == nil {
		if id >= 0 && id < labels.Len() {
			return id
		}
	}
	if id, ok := labels.ID(field); ok {
		return id
	}
	return labels.Add(field)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func mustAtoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
