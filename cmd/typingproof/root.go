package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"typingproof/internal/typingproof/config"
	"typingproof/internal/typingproof/logger"
)

var (
	cfgFile string
	Version = "v0.1"

	rootCmd = &cobra.Command{
		Use:   "typingproof",
		Short: "typingproof - tamper-evident, PoSW-chained record of how code was typed",
		Long:  "typingproof records, exports and verifies a cryptographic hash chain of editor events.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
			} else {
				viper.SetConfigFile("config.yaml")
			}
			if err := viper.ReadInConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not read config (%v). Using defaults and flags.\n", err)
			}
			if err := config.Load(viper.GetViper()); err != nil {
				return err
			}

			cfg := config.Get()
			if err := logger.Init(logger.Config{
				Level:        cfg.Logging.Level,
				ConsoleLevel: cfg.Logging.ConsoleLevel,
				DebugFile:    cfg.Logging.DebugFile,
				InfoFile:     cfg.Logging.InfoFile,
				Development:  cfg.Logging.Development,
			}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
