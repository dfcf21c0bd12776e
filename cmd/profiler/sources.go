package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyulab/actor-profiler/internal/profile"
	"github.com/iyulab/actor-profiler/internal/sources"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Evidence URL tools",
	}

	var timeout time.Duration
	validateCmd := &cobra.Command{
		Use:   "validate <url>...",
		Short: "Filter and probe URLs the way generated profiles are checked",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := sources.NewValidator(sources.WithProbeTimeout(timeout))

			in := make([]profile.Source, 0, len(args))
			for _, u := range args {
				in = append(in, profile.Source{URL: u})
			}
			kept := v.Validate(cmd.Context(), in)

			keptSet := make(map[string]bool, len(kept))
			for _, s := range kept {
				keptSet[profile.SourceKey(s.URL)] = true
				fmt.Printf("[+] %-9s %s\n", sources.Classify(s.URL), s.URL)
			}
			for _, u := range args {
				if !keptSet[profile.SourceKey(u)] {
					fmt.Printf("[-] %-9s %s\n", "dropped", u)
				}
			}
			fmt.Fprintf(os.Stderr, "[*] %d of %d URLs kept\n", len(kept), len(args))
			return nil
		},
	}
	validateCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-URL probe timeout")

	cmd.AddCommand(validateCmd)
	return cmd
}
