// Package cli implements the dbft command line.
package cli

import (
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/r3e-network/dbft/logging"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "dbft",
		Short: "A delegated BFT consensus engine.",
		Long: `dbft runs a delegated byzantine fault tolerant consensus committee.

The 'run' command starts a committee of validators inside one process,
connected by an in-memory transport, and reports the blocks they commit.
Use 'dbft help run' to view its parameters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
)

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbft.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "sets the log level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")))
	rootCmd.PersistentFlags().StringSlice("log-pkgs", []string{}, "set the log level on a per-package basis.")
	cobra.CheckErr(viper.BindPFlag("log-pkgs", rootCmd.PersistentFlags().Lookup("log-pkgs")))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".dbft")
	}

	viper.SetEnvPrefix("dbft")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	logging.SetLogLevel(viper.GetString("log-level"))

	for _, packageLevel := range viper.GetStringSlice("log-pkgs") {
		parts := strings.Split(packageLevel, ":")
		if len(parts) != 2 {
			fmt.Println("log-pkgs flag must be a comma-separated list of package:level strings")
			os.Exit(1)
		}
		logging.SetPackageLogLevel(parts[0], parts[1])
	}
}
