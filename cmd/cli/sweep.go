package cli

import (
	"fmt"

	"kanflow/internal/config"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one due date sweep",
	Long:  `Raise DUE_DATE_APPROACHING for every open card due within the sweep horizon. Each rule fires once per due date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db := loadForCommand()
		s := buildStack(cfg, db, config.NewLogger())

		n, err := s.sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("dispatched %d cards\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
