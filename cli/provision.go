package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/evostrat/evostrat/es"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
)

const filePermission = 0o644

var provisionCmd = &cobra.Command{
	Use:   "provision <file>",
	Short: "Provision an experiment",
	Long:  `Interactively build an experiment configuration file for the master.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			logUsageCmd(*cmd, cmd.Use)

			return
		}

		cfg := es.DefaultConfig()

		var (
			policyDim      string
			episodes       string
			maxGenerations string
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Environment ID").
					Description("Identifier of the simulator the workers will run").
					Value(&cfg.EnvID).
					Validate(func(s string) error {
						if s == "" {
							return errors.New("environment id is required")
						}

						return nil
					}),
				huh.NewInput().
					Title("Policy dimension").
					Value(&policyDim).
					Validate(validatePositiveInt),
				huh.NewInput().
					Title("Episodes per generation").
					Value(&episodes).
					Validate(validatePositiveInt),
				huh.NewInput().
					Title("Max generations").
					Value(&maxGenerations).
					Validate(validatePositiveInt),
				huh.NewSelect[string]().
					Title("Optimizer").
					Options(
						huh.NewOption("Adam", es.OptimizerAdam),
						huh.NewOption("SGD with momentum", es.OptimizerSGD),
					).
					Value(&cfg.Optimizer.Type),
			),
		)

		if err := form.Run(); err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		cfg.PolicyDim, _ = strconv.Atoi(policyDim)
		cfg.EpisodesPerGeneration, _ = strconv.Atoi(episodes)
		cfg.MaxGenerations, _ = strconv.ParseUint(maxGenerations, 10, 64)

		if err := cfg.Validate(); err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		data, err := toml.Marshal(cfg)
		if err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		if err := os.WriteFile(args[0], data, filePermission); err != nil {
			logErrorCmd(*cmd, err)

			return
		}
		logSuccessCmd(*cmd, fmt.Sprintf("Successfully created experiment file %s", args[0]))
	},
}

func NewProvisionCmd() *cobra.Command {
	return provisionCmd
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errors.New("must be a positive integer")
	}

	return nil
}
