package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFoldersCmd(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List the selectable folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			folders, err := s.service.ListFolders(cmd.Context())
			if err != nil {
				return err
			}
			for _, folder := range folders {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), folder.Name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
