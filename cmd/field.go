package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

func newFieldCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Read or write field values",
	}
	cmd.AddCommand(newFieldGetCmd(g), newFieldPutCmd(g))
	return cmd
}

func newFieldGetCmd(g *globals) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "get <frequency> <name>",
		Short: "Print a field value as JSON",
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
			f, err := n.Field(args[1])
			if err != nil {
				return err
			}
			v, err := f.Get()
			if err != nil {
				return err
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Node identifier, as <frequency>=<id> (repeatable)")
	return cmd
}

func newFieldPutCmd(g *globals) *cobra.Command {
	var (
		ids      []string
		typeName string
		array    bool
	)
	cmd := &cobra.Command{
		Use:   "put <frequency> <name> <value>",
		Short: "Store a field value",
		Long: `Store a field value. The value is parsed as JSON when it is valid JSON
and used as a plain string otherwise.`,
		Args: cobra.ExactArgs(3),
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
			var raw any = args[2]
			if v, err := oj.ParseString(args[2]); err == nil {
				raw = v
			}

			f, err := n.Field(args[1])
			switch {
			case errors.Is(err, tree.ErrNoItem):
				dt, inferredArray := item.InferDataType(raw)
				if typeName != "" {
					if dt, err = item.ParseDataType(typeName); err != nil {
						return err
					}
				}
				f = n.AddField(args[1], dt, array || inferredArray, nil)
			case err != nil:
				return err
			}
			if err := f.Put(raw); err != nil {
				return err
			}
			g.log.WithField("field", f.String()).Info("stored")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Node identifier, as <frequency>=<id> (repeatable)")
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "Data type of a new field: str, int, float or bool")
	cmd.Flags().BoolVar(&array, "array", false, "The new field holds an array")
	return cmd
}
