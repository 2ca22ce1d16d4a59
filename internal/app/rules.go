package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the registered rules and their weights",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := newPipeline(cfg, false)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-22s %-8s %s\n", "Rule", "Weight", "Enabled")
		fmt.Fprintln(out, strings.Repeat("─", 40))
		for _, r := range p.calculator.Rules() {
			fmt.Fprintf(out, "%-22s %-8g %v\n", r.Name(), r.Weight(), r.Enabled())
		}
		return nil
	},
}
