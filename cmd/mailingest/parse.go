package main

import (
	"github.com/spf13/cobra"
	"github.com/vdavid/mailingest/internal/imap"
)

func newParseCmd(e env) *cobra.Command {
	var (
		strict  bool
		mailbox string
		folder  string
	)

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Assemble a raw RFC 5322 message into an email record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			record, err := imap.AssembleRaw(cmd.Context(), raw, strict, imap.AssemblerConfig{
				Folder:  folder,
				Mailbox: mailbox,
				Now:     e.now,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), record)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "parse with a MIME parser instead of scanning sections")
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "address used as To when the message has none")
	cmd.Flags().StringVar(&folder, "folder", imap.DefaultFolder, "folder recorded on the email")

	return cmd
}
