package main

import (
	"github.com/spf13/cobra"
)

func newFetchCmd(e env) *cobra.Command {
	var (
		folder string
		limit  int
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the newest emails of a folder and print them as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.openSession(cmd.Context(), strict)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.service.FetchEmails(cmd.Context(), folder, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "", "folder to fetch (default from MAILINGEST_FOLDER)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of emails (default from MAILINGEST_FETCH_LIMIT)")
	cmd.Flags().BoolVar(&strict, "strict", false, "parse whole messages with a MIME parser")

	return cmd
}
