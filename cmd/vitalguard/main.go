package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hed1ad/vitalguard/pkg/guard"
)

var (
	buildVersion      = "unknown"
	envPrefix         = "VITALGUARD"
	defaultConfigName = ".vitalguard"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	logLevel string
	out      io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	rootCmd := &cobra.Command{
		Use:           "vitalguard",
		Short:         "Train and run anomaly detectors on wearable health readings",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfgErr := a.initConfig()
			a.bindFlags(cmd)
			a.initLogger()
			if cfgErr != nil {
				log.Errorf("Read config error: %v", cfgErr)
			}
			return nil
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", fmt.Sprintf("config file (default is $HOME/%s.yaml)", defaultConfigName))
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warning", "Log level: debug, info, warning, error")

	rootCmd.AddCommand(
		a.newTrainCmd(),
		a.newPredictCmd(),
		a.newEvaluateCmd(),
		a.newAgreementCmd(),
		a.newCheckCmd(),
	)
	return rootCmd
}

// initConfig reads the config file, if any, and environment variables.
func (a *app) initConfig() error {
	setDefaults(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.AddConfigPath(".")
		a.v.SetConfigName(defaultConfigName)
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && a.cfgFile == "" {
			return nil
		}
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	g := guard.DefaultConfig()
	v.SetDefault("guard.min_training_samples", g.MinTrainingSamples)
	v.SetDefault("guard.high_severity_score", g.HighSeverityScore)
	v.SetDefault("guard.rules.max_heart_rate", g.Rules.MaxHeartRate)
	v.SetDefault("guard.rules.min_heart_rate", g.Rules.MinHeartRate)
	v.SetDefault("guard.rules.min_blood_oxygen", g.Rules.MinBloodOxygen)
}

func (a *app) initLogger() {
	ll, err := log.ParseLevel(a.logLevel)
	if err != nil {
		ll = log.WarnLevel
	}
	log.SetLevel(ll)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableColors: false, FullTimestamp: true, PadLevelText: true, DisableQuote: true})
}

// bindFlags applies config and environment values to flags the user did
// not set on the command line.
func (a *app) bindFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			_ = a.v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix))
		}

		if !f.Changed && a.v.IsSet(f.Name) {
			val := a.v.Get(f.Name)
			switch val.(type) {
			case bool, uint, string, int32, int16, int8, int, uint32, uint64, int64, float64, float32:
				_ = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val))
			default:
				b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(&val)
				if err != nil {
					log.Fatalf("can't parse flag %s into json with value %v got error %s", f.Name, val, err)
					return
				}
				_ = cmd.Flags().Set(f.Name, string(b))
			}
		}
	})
}

func (a *app) printJSON(v interface{}) error {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
