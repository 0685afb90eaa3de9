package main

import (
	"fmt"

	"github.com/alwitt/proxykey/attestation"
	"github.com/spf13/cobra"
)

func newAttestationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attestation",
		Short: "Attestation backend utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity for the age attestation mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, recipient, err := attestation.GenerateIdentity()
			if err != nil {
				return err
			}
			fmt.Printf("# public key: %s\n", recipient)
			fmt.Println(identity)
			return nil
		},
	})
	return cmd
}
