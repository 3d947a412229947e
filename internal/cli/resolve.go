package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkock/asyncinit/resolve"
)

func newResolveCmd(a *app) *cobra.Command {
	var search []string

	cmd := &cobra.Command{
		Use:   "resolve <name>...",
		Short: "Resolve definitions by name",
		Long: "Resolve looks each name up in the definitions found in --dir, then in the --search directories. " +
			"Repeated names are served from the cache.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locations := resolve.ScanLocations(a.logger, a.cfg.Resolve.Dirs...)
			var fallback resolve.Resolver
			if len(search) > 0 {
				fallback = resolve.SearchDirs(resolve.ReadFile, search...)
			}
			cache := resolve.NewCache(locations, fallback, resolve.WithLogger(a.logger))

			out := cmd.OutOrStdout()
			for _, name := range args {
				def, err := cache.Resolve(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\t%d bytes\n", def.Name, def.Location, len(def.Data))
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("dir", nil, "Directory of known definitions (repeatable)")
	cmd.Flags().StringSliceVar(&search, "search", nil, "Directory searched for names not found in --dir (repeatable)")

	return cmd
}
