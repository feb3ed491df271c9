package cli

import (
	"github.com/evostrat/evostrat/pkg/sdk"
	"github.com/spf13/cobra"
)

var esdk sdk.SDK

func SetSDK(s sdk.SDK) {
	esdk = s
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run status",
		Long:  `View the current generation and collection statistics of the master.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := esdk.Status()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}
}
