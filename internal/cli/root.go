// Package cli is the terminal presentation layer over the session
// engine: create a chat, join it, type messages.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pattersondev/voynich-client/internal/identity"
)

var (
	cfgFile   string
	serverURL string
	dataDir   string
)

const (
	serverURLKey = "server_url"
	dataDirKey   = "data_dir"
)

var rootCmd = &cobra.Command{
	Use:   "voynich",
	Short: "Ephemeral, self-destructing chat rooms from the terminal",
	Long: `voynich talks to a Voynich backend: create a room that
self-destructs after a fixed duration, share its id, and chat until it
expires. Identities are pseudonymous and stable per room.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.voynich.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Voynich backend base URL")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for the identity database (default is $HOME/.voynich)")

	viper.BindPFlag(serverURLKey, rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag(dataDirKey, rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".voynich")
	}

	viper.SetEnvPrefix("VOYNICH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
		}
	}

	serverURL = viper.GetString(serverURLKey)
	dataDir = viper.GetString(dataDirKey)
	if dataDir == "" {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		dataDir = filepath.Join(home, ".voynich")
	}
}

// openIdentity opens (or falls back past) the identity database under
// the data dir.
func openIdentity(logger zerolog.Logger) *identity.Store {
	_ = os.MkdirAll(dataDir, 0700)
	return identity.Open(filepath.Join(dataDir, "identity.db"), logger)
}
