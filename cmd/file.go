package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/spf13/cobra"
)

func newFileCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Fetch or store file groups",
	}
	cmd.AddCommand(newFileGetCmd(g), newFilePutCmd(g))
	return cmd
}

func newFileGetCmd(g *globals) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "get <frequency> <path>",
		Short: "Print the local paths of a file group",
		Args:  cobra.ExactArgs(2),
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

			n, err := lookupNode(ds, args[0], ids, false)
			if err != nil {
				return err
			}
			fg, err := n.FileGroup(args[1])
			if err != nil {
				return err
			}
			primary, aux, err := fg.Get()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, primary)
			names := make([]string, 0, len(aux))
			for name := range aux {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%s\t%s\n", name, aux[name])
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Node identifier, as <frequency>=<id> (repeatable)")
	return cmd
}

func newFilePutCmd(g *globals) *cobra.Command {
	var (
		ids        []string
		formatName string
		sideCars   []string
	)
	cmd := &cobra.Command{
		Use:   "put <frequency> <path> <primary>",
		Short: "Store a local file or directory as a file group",
		Args:  cobra.ExactArgs(3),
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

			n, err := lookupNode(ds, args[0], ids, true)
			if err != nil {
				return err
			}
			var aux map[string]string
			if len(sideCars) > 0 {
				aux = map[string]string{}
				for _, sc := range sideCars {
					name, p, ok := strings.Cut(sc, "=")
					if !ok || name == "" || p == "" {
						return fmt.Errorf("--side-car %q: expected <name>=<path>", sc)
					}
					aux[name] = p
				}
			}

			fg, err := n.FileGroup(args[1])
			switch {
			case errors.Is(err, tree.ErrNoItem):
				if formatName == "" {
					return fmt.Errorf("file group %q is new: --format is required", args[1])
				}
				format, err := item.LookupFormat(formatName)
				if err != nil {
					return err
				}
				fg = n.AddFileGroup(args[1], format, nil)
			case err != nil:
				return err
			}
			if err := fg.Put(args[2], aux); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fg.Local)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Node identifier, as <frequency>=<id> (repeatable)")
	cmd.Flags().StringVar(&formatName, "format", "", "Format of a new file group (e.g. niftix_gz, text, directory)")
	cmd.Flags().StringArrayVar(&sideCars, "side-car", nil, "Side-car file, as <name>=<path> (repeatable)")
	return cmd
}
