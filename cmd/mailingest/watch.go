package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vdavid/mailingest/internal/imap"
	"github.com/vdavid/mailingest/internal/logging"
)

func newWatchCmd(e env) *cobra.Command {
	var (
		folder string
		fetch  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a folder with IDLE and report new mail until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := e.notifyContext(cmd.Context())
			defer stop()

			s, err := e.openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			logger := logging.Component("watch")
			out := cmd.OutOrStdout()
			s.service.Watch(ctx, folder, func(change imap.MailboxChange) {
				if !fetch {
					if _, err := fmt.Fprintf(out, "%s: %d new (%d total)\n", change.Folder, change.New, change.Messages); err != nil {
						logger.Warn().Err(err).Msg("Failed to write change")
					}
					return
				}

				result, err := s.service.FetchEmails(ctx, change.Folder, int(change.New))
				if err != nil {
					logger.Error().Err(err).Str("folder", change.Folder).Msg("Failed to fetch new emails")
					return
				}
				if err := writeJSON(out, result); err != nil {
					logger.Warn().Err(err).Msg("Failed to write emails")
				}
			})
			return nil
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "", "folder to watch (default from MAILINGEST_FOLDER)")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch and print the new emails instead of a summary")

	return cmd
}
