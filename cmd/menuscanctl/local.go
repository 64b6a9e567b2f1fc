package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/menu-safety/constants"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/ocr"
	"github.com/joseph-ayodele/menu-safety/internal/optimizer"
)

// OptimizeCmd runs the token optimizer locally on a menu text file.
func OptimizeCmd() *cobra.Command {
	var (
		allergies []string
		protected []string
		maxItems  int
		priority  string
	)
	cmd := &cobra.Command{
		Use:   "optimize [menu-file]",
		Short: "Bound a menu's terms the way the scan pipeline does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read menu: %w", err)
			}
			text, err := ocr.FromText(string(raw))
			if err != nil {
				return err
			}
			if len(protected) == 0 {
				protected = constants.DefaultProtectedKeywords()
			}
			res := optimizer.Optimize(allergies, text.Tokens, optimizer.TokenBudget{
				MaxItems:          maxItems,
				ProtectedKeywords: protected,
				SynonymMap:        constants.DefaultSynonymMap(),
				Priority:          optimizer.ParsePriority(priority),
			})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringSliceVar(&allergies, "allergy", nil, "declared allergy (repeatable)")
	cmd.Flags().StringSliceVar(&protected, "protect", nil, "protected keyword (default: every allergen code)")
	cmd.Flags().IntVar(&maxItems, "max-items", 60, "item budget")
	cmd.Flags().StringVar(&priority, "priority", string(optimizer.PriorityTailOrder), "tail | menu_first | allergy_first")
	return cmd
}

// TimingCmd parses a Server-Timing header value.
func TimingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timing [header]",
		Short: "Parse a Server-Timing header into durations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := metrics.ParseServerTiming(args[0])
			if len(parsed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no valid entries")
				return nil
			}
			names := make([]string, 0, len(parsed))
			for n := range parsed {
				names = append(names, n)
			}
			slices.Sort(names)
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f ms\n", n, parsed[n])
			}
			return nil
		},
	}
}
