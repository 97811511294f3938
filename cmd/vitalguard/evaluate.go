package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hed1ad/vitalguard/pkg/detectors/ensemble"
	"github.com/hed1ad/vitalguard/pkg/evaluate"
)

func (a *app) newEvaluateCmd() *cobra.Command {
	var (
		model string
		in    string
		port  uint16
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Report detection metrics, against the CSV label column when present",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := loadModel(model)
			if err != nil {
				return err
			}
			frame, labels, err := readTable(in, port)
			if err != nil {
				return err
			}
			m, err := evaluate.Evaluate(d, frame, labels)
			if err != nil {
				return err
			}
			return a.printJSON(m)
		},
	}

	cmd.Flags().StringVar(&model, "model", "model.vgdm", "Trained detector")
	cmd.Flags().StringVar(&in, "in", "", "Readings to evaluate on (.csv, .pcap or .pcapng)")
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP port carrying readings in captures (default: any)")
	return cmd
}

func (a *app) newAgreementCmd() *cobra.Command {
	var (
		model string
		in    string
		port  uint16
	)

	cmd := &cobra.Command{
		Use:   "agreement",
		Short: "Show how often the members of a saved ensemble agree",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := loadModel(model)
			if err != nil {
				return err
			}
			e, ok := d.(*ensemble.Ensemble)
			if !ok {
				return errors.Errorf("%s holds a %s detector, not an ensemble", model, d.Kind())
			}
			frame, _, err := readTable(in, port)
			if err != nil {
				return err
			}
			agreement, err := e.Agreement(frame)
			if err != nil {
				return err
			}
			return a.printJSON(agreement)
		},
	}

	cmd.Flags().StringVar(&model, "model", "model.vgdm", "Trained ensemble")
	cmd.Flags().StringVar(&in, "in", "", "Readings (.csv, .pcap or .pcapng)")
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP port carrying readings in captures (default: any)")
	return cmd
}
