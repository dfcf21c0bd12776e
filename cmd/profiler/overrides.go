package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iyulab/actor-profiler/internal/override"
)

func newOverridesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Inspect hand-verified actor overrides",
	}

	var file string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and operator overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := override.Load(file)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tALIASES\tCVES\tSOURCES\tFORBIDDEN")
			for _, r := range reg.All() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					r.Name, strings.Join(r.Aliases, ", "), len(r.Vulnerabilities),
					len(r.Sources), strings.Join(r.ForbiddenAliases, ", "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "[*] %d overrides\n", reg.Len())
			return nil
		},
	}
	listCmd.Flags().StringVarP(&file, "file", "f", "", "operator overrides YAML merged over the built-in table")

	cmd.AddCommand(listCmd)
	return cmd
}
