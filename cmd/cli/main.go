package main

import (
	"log"

	"github.com/evostrat/evostrat/cli"
	"github.com/evostrat/evostrat/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defMasterURL       = "http://localhost:7070"
	defTLSVerification = false
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "evostrat-cli",
		Short: "Evostrat CLI",
		Long:  `Evostrat CLI is a command line interface for inspecting and provisioning optimization runs.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				MasterURL:       defMasterURL,
				TLSVerification: defTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}

	rootCmd.AddCommand(cli.NewStatusCmd())
	rootCmd.AddCommand(cli.NewWorkersCmd())
	rootCmd.AddCommand(cli.NewProvisionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
