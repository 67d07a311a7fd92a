package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/engine"
)

// deviceCmd helps debug device settings before a long run.
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the resolved training and inference devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("infer-device") {
			cfg.InferDevice = deviceInferOverride
		}

		trainDev, inferDev, err := engine.Devices(cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "train: %s\n", trainDev)
		fmt.Fprintf(out, "infer: %s\n", inferDev)
		fmt.Fprintf(out, "cpu:   %s\n", trainDev.Brand)
		fmt.Fprintf(out, "simd:  %s\n", strings.Join(trainDev.Features, " "))
		return nil
	},
}

var deviceInferOverride string

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.Flags().StringVar(&deviceInferOverride, "infer-device", "", "inference device to resolve (overrides config)")
}
