package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the resource dependency graph as DOT",
		Long: `Build the catalog and print its dependency graph in Graphviz DOT
format. Require edges are solid, notify edges are dashed.`,
		Example: `  # Render the graph with Graphviz
  converge graph | dot -Tsvg -o catalog.svg

  # Write the DOT source to a file
  converge graph -o catalog.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cliVersion)
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			dot := rt.catalog.Graph().ToDOT()
			if output == "" {
				fmt.Print(dot)
				return nil
			}
			if err := os.WriteFile(output, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Printf("wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write DOT to a file instead of stdout")

	return cmd
}
