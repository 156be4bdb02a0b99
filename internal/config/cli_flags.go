package config

import "github.com/spf13/cobra"

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format only")
	cmd.PersistentFlags().String("timeout", "", "Hard timeout for one extraction (e.g. 3m)")
	cmd.PersistentFlags().String("config", "", "Path to a YAML configuration file (optional)")
	cmd.PersistentFlags().String("env", "", "Environment profile: development or production")
	cmd.PersistentFlags().String("env-file", DefaultEnvFile, "Path to a .env file loaded before reading the environment")
	cmd.PersistentFlags().StringArrayP("header", "H", nil, "Extra header sent to the extraction API (\"Key: Value\")")
}
