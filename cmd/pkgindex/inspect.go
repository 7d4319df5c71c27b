package main

import (
	"fmt"
	"sort"

	"github.com/gophersatwork/indexcache"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Print the roots and entry counts of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := indexcache.NewSnapshotCache(args[0],
				indexcache.WithFs(afero.NewOsFs()),
			)
			if err != nil {
				return err
			}
			defer cache.Close()

			if !cache.Frozen() {
				return fmt.Errorf("failed to load snapshot %s", args[0])
			}

			listings := cache.Listings()
			roots := make([]string, 0, len(listings))
			for root := range listings {
				roots = append(roots, root)
			}
			sort.Strings(roots)

			total := 0
			for _, root := range roots {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d entries\n", root, len(listings[root]))
				total += len(listings[root])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total\t%d entries in %d roots\n", total, len(roots))
			return nil
		},
	}
}
