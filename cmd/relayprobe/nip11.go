package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/relayprobe/pkg/nip11"
)

func nip11Cmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nip11 <relay>",
		Short: "Show the relay's information document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := nip11.MetadataURL(args[0])
			if err != nil {
				return err
			}
			a.logger.Debug("fetching relay information", "url", target)

			doc, err := nip11.NewClient(a.cfg.MetadataTimeout, a.logger).Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pretty, err := doc.Indent()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, pretty)
			return err
		},
	}
}
