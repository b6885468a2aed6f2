package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Print the training ladder",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		levels, err := trial.LevelsFromConfig(cfg.Levels)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-5s  %-8s  %-14s  %-8s  %s\n", "Level", "Rule", "Ratios", "Manip", "Criteria (n/win/perc/bias/valid)")
		fmt.Fprintf(w, "%-5s+-%-8s+-%-14s+-%-8s+-%s\n", "-----", "--------", "--------------", "--------", "--------------------------------")
		for i, l := range levels {
			manip := "session"
			if len(l.Manipulation) > 0 {
				manip = fmt.Sprint(l.Manipulation)
			}
			c := l.Criteria
			fmt.Fprintf(w, "%-5d  %-8s  %-14s  %-8s  %d/%d/%.2f/%.2f/%.2f\n",
				i, l.Rule.Name, fmt.Sprint(l.Ratio), manip, c.N, c.Win, c.Perc, c.Bias, c.Valid)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(levelsCmd)
}
