package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultServerURL = "http://localhost:5000"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "pausarr",
		Short:         "Pause containers while Jellyfin is in use",
		Long:          "pausarr watches Jellyfin sessions and pauses a set of Docker containers while someone is watching, unpausing them once everyone has left.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("server", defaultServerURL, "address of a running pausarr daemon")
	bind(v, rootCmd.PersistentFlags().Lookup("server"), "PAUSARR_SERVER")

	rootCmd.AddCommand(
		newServeCmd(v),
		newStatusCmd(v),
		newStartCmd(v),
		newStopCmd(v),
		newCheckCmd(v),
		newPauseAllCmd(v),
		newUnpauseAllCmd(v),
	)

	return rootCmd
}

// bind makes flag readable through v, falling back to the env variable when
// the flag is not set on the command line.
func bind(v *viper.Viper, flag *pflag.Flag, env string) {
	_ = v.BindPFlag(flag.Name, flag)
	_ = v.BindEnv(flag.Name, env)
}
