package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/vitalguard/pkg/features/synthetic"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeReadings(t *testing.T, dir string) string {
	t.Helper()
	frame := synthetic.Frame(8, 300, 15)
	labels := synthetic.Labels(300, 15)

	var b strings.Builder
	b.WriteString("timestamp,heart_rate,blood_oxygen,activity_level,device_id,label\n")
	for i := 0; i < frame.Len(); i++ {
		r := frame.Row(i)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%s,%s,%d\n",
			r.Timestamp.Format("2006-01-02T15:04:05Z"), r.HeartRate, r.BloodOxygen, r.Activity, r.DeviceID, labels[i])
	}
	path := filepath.Join(dir, "readings.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func decodeLines(t *testing.T, s string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, jsoniter.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestTrainPredictEvaluate(t *testing.T) {
	dir := t.TempDir()
	readings := writeReadings(t, dir)
	model := filepath.Join(dir, "model.vgdm")

	out, err := run(t, "train", "--method", "statistical", "--set", "method=modified_z_score", "--in", readings, "--out", model)
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, jsoniter.UnmarshalFromString(out, &res))
	assert.Equal(t, "statistical", res["model_type"])
	assert.Equal(t, 315.0, res["total_samples"])

	out, err = run(t, "predict", "--model", model, "--in", readings)
	require.NoError(t, err)
	lines := decodeLines(t, out)
	require.Len(t, lines, 315)
	assert.Equal(t, true, lines[314]["is_anomaly"])

	out, err = run(t, "evaluate", "--model", model, "--in", readings)
	require.NoError(t, err)
	var metrics map[string]interface{}
	require.NoError(t, jsoniter.UnmarshalFromString(out, &metrics))
	assert.Equal(t, 15.0, metrics["true_anomalies"])
	assert.Equal(t, 1.0, metrics["recall"])

	_, err = run(t, "agreement", "--model", model, "--in", readings)
	assert.Error(t, err)
}

func TestEnsembleAgreement(t *testing.T) {
	dir := t.TempDir()
	readings := writeReadings(t, dir)
	model := filepath.Join(dir, "ensemble.vgdm")

	_, err := run(t, "train", "--in", readings, "--out", model)
	require.NoError(t, err)

	out, err := run(t, "agreement", "--model", model, "--in", readings)
	require.NoError(t, err)
	var agreement map[string]interface{}
	require.NoError(t, jsoniter.UnmarshalFromString(out, &agreement))
	assert.Len(t, agreement["detector_names"], 3)
	assert.Equal(t, 315.0, agreement["total_samples"])
}

func TestCheckRules(t *testing.T) {
	out, err := run(t, "check", "--hr", "134", "--spo2", "88")
	require.NoError(t, err)
	lines := decodeLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, true, lines[0]["is_anomaly"])
	assert.Equal(t, "high", lines[0]["severity"])
	assert.Equal(t, "rules", lines[0]["metadata"].(map[string]interface{})["source"])
}

func TestCheckStream(t *testing.T) {
	dir := t.TempDir()
	readings := writeReadings(t, dir)
	model := filepath.Join(dir, "model.vgdm")

	_, err := run(t, "train", "--method", "statistical", "--in", readings, "--out", model)
	require.NoError(t, err)

	out, err := run(t, "check", "--model", model, "--in", readings)
	require.NoError(t, err)
	lines := decodeLines(t, out)
	require.Len(t, lines, 315)
	assert.Equal(t, "model", lines[0]["metadata"].(map[string]interface{})["source"])
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	readings := writeReadings(t, dir)
	cfg := filepath.Join(dir, "vitalguard.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
method: statistical
params:
  method: iqr
guard:
  rules:
    max_heart_rate: 100
`), 0o600))
	model := filepath.Join(dir, "model.vgdm")

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"train", "--config", cfg, "--in", readings, "--out", model})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"method": "iqr"`)

	out.Reset()
	cmd = newRootCmd(&out)
	cmd.SetArgs([]string{"check", "--config", cfg, "--hr", "110", "--spo2", "97"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"is_anomaly":true`)
}

func TestMissingInput(t *testing.T) {
	_, err := run(t, "train", "--method", "statistical")
	assert.Error(t, err)

	_, err = run(t, "predict", "--model", filepath.Join(t.TempDir(), "none.vgdm"), "--in", "x.csv")
	assert.Error(t, err)
}
