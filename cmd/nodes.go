package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNodesCmd(g *globals) *cobra.Command {
	var (
		freqName string
		ids      []string
		items    bool
	)
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes of a frequency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.config(cmd)
			if err != nil {
				return err
			}
			ds, closeFn, err := openDataset(c, g.log)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			f := ds.Hierarchy().Leaf()
			if freqName != "" {
				if f, err = ds.Space().Parse(freqName); err != nil {
					return err
				}
			}
			sel, err := parseIDs(ds.Space(), ids)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range ds.Match(f, sel) {
				fmt.Fprintf(out, "%s\t%s\n", n, n.IDs())
				if !items {
					continue
				}
				for _, fg := range n.FileGroups() {
					fmt.Fprintf(out, "  file  %s (%s)\n", fg.Path, fg.Format)
				}
				for _, fl := range n.Fields() {
					kind := fl.DataType.String()
					if fl.Array {
						kind = "[]" + kind
					}
					fmt.Fprintf(out, "  field %s (%s)\n", fl.Name, kind)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&freqName, "freq", "f", "", "Frequency to list (default: the hierarchy leaf)")
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Filter by identifier, as <frequency>=<id> (repeatable)")
	cmd.Flags().BoolVar(&items, "items", false, "Also list file groups and fields")
	return cmd
}
