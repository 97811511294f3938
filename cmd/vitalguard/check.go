package main

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
	"github.com/hed1ad/vitalguard/pkg/guard"
	vgio "github.com/hed1ad/vitalguard/pkg/io"
	"github.com/hed1ad/vitalguard/pkg/io/jsonl"
)

func (a *app) newCheckCmd() *cobra.Command {
	var (
		model    string
		in       string
		port     uint16
		hr       float64
		spo2     float64
		activity string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check readings one by one, falling back to clinical rules without a model",
		Example: `  vitalguard check --hr 134 --spo2 93
  vitalguard check --model model.vgdm --in readings.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := guard.DefaultConfig()
			if err := a.v.UnmarshalKey("guard", &cfg); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			opts := []guard.Option{guard.WithMetrics(guard.NewMetrics(reg))}
			if model != "" {
				d, err := loadModel(model)
				if err != nil {
					return err
				}
				cfg.Method = string(d.Kind())
				opts = append(opts, guard.WithDetector(d))
			}
			mon, err := guard.New(cfg, opts...)
			if err != nil {
				return err
			}

			w := jsonl.NewWriter(a.out)
			defer w.Close()

			if in == "" {
				if !cmd.Flags().Changed("hr") && !cmd.Flags().Changed("spo2") {
					return cmd.Usage()
				}
				reading := features.Reading{
					Timestamp:   time.Now().UTC(),
					HeartRate:   hr,
					BloodOxygen: spo2,
					Activity:    activity,
				}
				return w.Write(alertResult(mon.Check(reading)))
			}

			r, err := openReader(in, port)
			if err != nil {
				return err
			}
			defer r.Close()
			readings, err := r.Stream(context.Background())
			if err != nil {
				return err
			}
			for reading := range readings {
				if err := w.Write(alertResult(mon.Check(reading))); err != nil {
					return err
				}
			}
			logChecks(reg)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Trained detector (default: rules only)")
	cmd.Flags().StringVar(&in, "in", "", "Readings to check one by one (.csv, .pcap or .pcapng)")
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP port carrying readings in captures (default: any)")
	cmd.Flags().Float64Var(&hr, "hr", math.NaN(), "Heart rate of a single reading")
	cmd.Flags().Float64Var(&spo2, "spo2", math.NaN(), "Blood oxygen of a single reading")
	cmd.Flags().StringVar(&activity, "activity", "", "Activity level of a single reading: low, moderate or high")
	return cmd
}

func alertResult(alert guard.Alert) vgio.Result {
	r := alert.Reading
	res := vgio.NewResults(features.FromReadings([]features.Reading{r}), []int{detectors.Label(alert.IsAnomaly)}, []float64{alert.Score})[0]
	res.Severity = string(alert.Severity)
	res.Metadata = map[string]any{"source": string(alert.Source)}
	if alert.Reason != "" {
		res.Metadata["reason"] = alert.Reason
	}
	return res
}

func logChecks(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fields := log.Fields{}
			for _, l := range m.GetLabel() {
				fields[l.GetName()] = l.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				log.WithFields(fields).Infof("%s %v", mf.GetName(), c.GetValue())
			}
		}
	}
}
