package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/llmdocs/llmdoc/internal/app"
	"github.com/llmdocs/llmdoc/internal/config"
)

// newSourcesCmd creates the sources command, which lists configured sources
// and their stored statistics without starting the server.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured documentation sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			a, err := app.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			defer a.Close()

			sources, err := a.ListSources()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tURL\tDOCS\tLAST UPDATED")
			for _, src := range sources {
				updated := "never"
				if !src.LastUpdated.IsZero() {
					updated = src.LastUpdated.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", src.Name, src.URL, src.DocCount, updated)
			}
			return w.Flush()
		},
	}
}
