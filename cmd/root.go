package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/levelkv/cmd/accel"
	"github.com/ValentinKolb/levelkv/cmd/host"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "levelkv",
		Short: "accelerator-offloaded key-value store",
		Long: fmt.Sprintf(`levelkv (v%s)

A key-value store whose table lives in host memory while an accelerator
serves requests through a bucket cache, written in Go. The table is a
two-level, four-way bucketized hash table that doubles on demand.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of levelkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("levelkv v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(host.HostCmd)
	RootCmd.AddCommand(accel.AccelCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
