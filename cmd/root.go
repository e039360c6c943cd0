package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceverify",
	Short: "Face verification against an enrolled reference set",
	Long: `faceverify matches probe images against a directory of enrolled reference
faces. Face detection and embedding distances are computed by a DeepFace
REST service or a gRPC face analysis sidecar.

Run "faceverify serve" for the HTTP API or use the verify, enroll and
references commands to work with the reference set directly.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
