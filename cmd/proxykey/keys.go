package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect provisioned credentials",
	}

	var owner string
	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Count provisioned credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			var filter *string
			if owner != "" {
				filter = &owner
			}
			count, err := svc.Enclave.KeyCount(context.Background(), filter)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
	countCmd.Flags().StringVar(&owner, "owner", "", "count only this owner's credentials")

	cmd.AddCommand(countCmd)
	return cmd
}
