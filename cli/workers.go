package cli

import (
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

func NewWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers [list|view]",
		Short: "Workers registry",
		Long:  `List registered workers and view their liveness history.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		Long:  `List workers.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := esdk.ListWorkers(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View worker",
		Long:  `View worker.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			w, err := esdk.GetWorker(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, w)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(viewCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return cmd
}
