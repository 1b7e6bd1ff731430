package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSeparableCSV writes a two-cluster, two-feature dataset: label 0
// rows cluster near (0,0), label 1 rows cluster near (10,10).
func writeSeparableCSV(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("f0,f1,label\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&buf, "%d,%d,0\n", i%3, i%2)
		fmt.Fprintf(&buf, "%d,%d,1\n", 10+i%3, 10+i%2)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestRunTrainThenPredictRoundTrips(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	writeSeparableCSV(t, csvPath)

	cfg := &runConfig{
		DatasetPath:             csvPath,
		ModelDir:                dir,
		ModelName:               "m",
		NumFeatures:             2,
		NumLabels:               2,
		QuantizationCoefficient: 4,
		NumTrees:                10,
		MaxDepth:                6,
		MinLeaf:                 1,
		Seed:                    7,
	}

	require.NoError(t, runTrain(cfg, 1))

	for _, name := range []string{"m_config.json", "m_quantizer.qtz", "m_forest.bin"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "expected %s to exist", name)
	}

	var out bytes.Buffer
	require.NoError(t, runPredict(&out, dir, "m", []float32{0, 0}, false))
	assert.Contains(t, out.String(), "label=0")

	out.Reset()
	require.NoError(t, runPredict(&out, dir, "m", []float32{10, 10}, false))
	assert.Contains(t, out.String(), "label=1")
}

func TestRunTrainParallelMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	writeSeparableCSV(t, csvPath)

	cfg := &runConfig{
		DatasetPath:             csvPath,
		ModelDir:                dir,
		ModelName:               "m",
		NumFeatures:             2,
		NumLabels:               2,
		QuantizationCoefficient: 4,
		NumTrees:                8,
		MaxDepth:                6,
		MinLeaf:                 1,
		Seed:                    3,
	}
	require.NoError(t, runTrain(cfg, 4))

	var out bytes.Buffer
	require.NoError(t, runPredict(&out, dir, "m", []float32{0, 0}, false))
	assert.Contains(t, out.String(), "label=0")
}

func TestRunXferHappyPath(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(srcPath, bytes.Repeat([]byte("abcdefgh"), 100), 0o644))

	destDir := filepath.Join(dir, "dest")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	var out bytes.Buffer
	err := runXfer(&out, srcPath, destDir, "payload.bin", -1)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "end-session -> OK")

	got, err := os.ReadFile(filepath.Join(destDir, "payload.bin"))
	require.NoError(t, err)
	want, err := os.ReadFile(srcPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRunXferRetriesCorruptChunk(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(srcPath, bytes.Repeat([]byte("xyz123"), 200), 0o644))

	destDir := filepath.Join(dir, "dest")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	var out bytes.Buffer
	err := runXfer(&out, srcPath, destDir, "payload.bin", 0)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "chunk 0 -> NACK")
	assert.Contains(t, out.String(), "chunk 0 retry -> ACK")
	assert.Contains(t, out.String(), "end-session -> OK")
}

func TestExitCodeForClassifiesCliError(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCodeFor(nil))
	assert.Equal(t, exitConfigError, exitCodeFor(configErr(assert.AnError)))
	assert.Equal(t, exitIOError, exitCodeFor(ioErr(assert.AnError)))
	assert.Equal(t, exitVerificationError, exitCodeFor(verificationErr(assert.AnError)))
	assert.Equal(t, exitOutOfMemory, exitCodeFor(oomErr(assert.AnError)))
	assert.Equal(t, exitIOError, exitCodeFor(assert.AnError))
}

func TestLoadRunConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dataset_path":"d.csv","num_features":2,"num_labels":2}`), 0o644))

	cfg, err := loadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.QuantizationCoefficient)
	assert.Equal(t, ".", cfg.ModelDir)
	assert.Equal(t, "model", cfg.ModelName)
}

func TestLoadRunConfigRejectsMissingDatasetPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"num_features":2,"num_labels":2}`), 0o644))

	_, err := loadRunConfig(path)
	assert.Error(t, err)
}
