package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	vgio "github.com/hed1ad/vitalguard/pkg/io"
	"github.com/hed1ad/vitalguard/pkg/io/jsonl"
)

func (a *app) newPredictCmd() *cobra.Command {
	var (
		model string
		in    string
		out   string
		port  uint16
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Label every reading with a saved detector, one JSON line per reading",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := loadModel(model)
			if err != nil {
				return err
			}
			frame, _, err := readTable(in, port)
			if err != nil {
				return err
			}
			preds, err := d.Predict(frame)
			if err != nil {
				return err
			}
			scores, err := d.PredictProba(frame)
			if err != nil {
				return err
			}

			w := jsonl.NewWriter(a.out)
			if out != "" && out != "-" {
				if w, err = jsonl.Create(out); err != nil {
					return err
				}
			}
			results := vgio.NewResults(frame, preds, scores)
			for i := range results {
				results[i].Metadata = map[string]any{"detector": string(d.Kind())}
			}
			if err := w.WriteAll(results); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"readings":  len(preds),
				"anomalies": detectors.CountAnomalies(preds),
			}).Info("predictions written")
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "model.vgdm", "Trained detector")
	cmd.Flags().StringVar(&in, "in", "", "Readings to label (.csv, .pcap or .pcapng)")
	cmd.Flags().StringVar(&out, "out", "-", "JSON lines output file (- for stdout)")
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP port carrying readings in captures (default: any)")
	return cmd
}
