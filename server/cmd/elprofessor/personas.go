package main

import (
	"fmt"
	"text/tabwriter"

	"el-professor/server/internal/persona"

	"github.com/spf13/cobra"
)

func newPersonasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the available tutor personas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			registry, err := persona.LoadDir(cfg.Paths.Personas)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTONE\tTARGET\tLEVEL\tVOICE")
			for _, p := range registry.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Tone, p.TargetLanguage, p.InitialLevel, p.Voice)
			}
			return w.Flush()
		},
	}
}
