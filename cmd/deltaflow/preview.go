package main

import (
	"context"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
	"github.com/ajitpratap0/deltaflow/pkg/source"
)

func newPreviewCmd() *cobra.Command {
	var delimiter string
	var rows int

	cmd := &cobra.Command{
		Use:   "preview [file]",
		Short: "Print the first rows of a source file as the merge would read them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := source.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}
			if utf8.RuneCountInString(delimiter) != 1 {
				return errors.Newf(errors.ErrorTypeValidation, "delimiter must be a single character, got %q", delimiter)
			}
			d, _ := utf8.DecodeRuneInString(delimiter)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			batch, err := source.NewLoader(source.OptionsFor(path, d, schema.Default()), nil).Load(ctx)
			if err != nil {
				return err
			}
			defer batch.Release()
			_, err = source.Preview(cmd.OutOrStdout(), batch, rows)
			return err
		},
	}
	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", ";", "Field delimiter")
	cmd.Flags().IntVarP(&rows, "rows", "n", 50, "Rows to print")
	return cmd
}
