package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkock/asyncinit"
	"github.com/mkock/asyncinit/internal/manifest"
)

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Print the tiers a manifest would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			tiers, err := m.Manager(asyncinit.WithLogger(a.logger)).Tiers()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, tier := range tiers {
				fmt.Fprintf(out, "%4d  %s\n", tier.Priority, joinTypes(tier.Types()))
			}
			fmt.Fprintln(out, asyncinit.Plan(tiers))
			return nil
		},
	}
}

func joinTypes(types []asyncinit.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
