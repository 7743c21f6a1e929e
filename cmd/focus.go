package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var focusCmd = &cobra.Command{
	Use:   "focus <owner> <repo> <pull> <area>",
	Short: "Review a pull request with a focus area",
	Long: `Run a review of the pull request weighted toward the given focus
area (e.g. security, performance). Equivalent to 'revd review --focus'.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid pull number %q", args[2])
		}
		return reviewRun(cmd.Context(), args[0], args[1], pull, reviewCommit, args[3])
	},
}

func init() {
	focusCmd.Flags().StringVar(&reviewCommit, "commit", "", "Head commit SHA (default: current head of the pull request)")
	rootCmd.AddCommand(focusCmd)
}
