package main

import (
	"github.com/spf13/cobra"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/persist"
)

func (a *app) newTrainCmd() *cobra.Command {
	var (
		method string
		in     string
		out    string
		port   uint16
		set    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a detector on a table of readings and save it",
		Example: `  vitalguard train --method statistical --set method=iqr --in readings.csv --out model.vgdm
  vitalguard train --method ensemble --in gateway.pcap --port 5140`,
		RunE: func(_ *cobra.Command, _ []string) error {
			params := a.v.GetStringMap("params")
			for k, val := range set {
				params[k] = val
			}

			d, err := detectors.New(method, params)
			if err != nil {
				return err
			}
			frame, _, err := readTable(in, port)
			if err != nil {
				return err
			}
			res, err := d.Train(frame)
			if err != nil {
				return err
			}
			if err := persist.SaveFile(d, out); err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}

	cmd.Flags().StringVar(&method, "method", string(detectors.KindEnsemble), "Detector: density-partitioning, boundary-margin, statistical or ensemble")
	cmd.Flags().StringVar(&in, "in", "", "Training readings (.csv, .pcap or .pcapng)")
	cmd.Flags().StringVar(&out, "out", "model.vgdm", "Where to write the trained detector")
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP port carrying readings in captures (default: any)")
	cmd.Flags().StringToStringVar(&set, "set", nil, "Hyperparameter overrides, e.g. contamination=0.05")
	return cmd
}
