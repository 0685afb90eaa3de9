package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alwitt/proxykey/audit"
	"github.com/spf13/cobra"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the audit log",
	}

	cmd.AddCommand(
		newAuditVerifyCmd(configPath),
		newAuditLogsCmd(configPath),
	)
	return cmd
}

func newAuditVerifyCmd(configPath *string) *cobra.Command {
	var fromID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			var from *string
			if fromID != "" {
				from = &fromID
			}
			result, err := svc.Audit.Verify(context.Background(), from)
			if err != nil {
				return err
			}
			if !result.Valid {
				fmt.Printf("Chain INVALID after %d entries\n", result.Checked)
				fmt.Printf("First bad entry: %s\n", result.FirstInvalidID)
				fmt.Printf("Reason:          %s\n", result.Reason)
				return fmt.Errorf("audit chain verification failed")
			}
			fmt.Printf("Chain valid: %d entries\n", result.Checked)
			if result.ChainTip != "" {
				fmt.Printf("Chain tip:   %s\n", result.ChainTip)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromID, "from", "", "start verification at this entry ID")
	return cmd
}

func newAuditLogsCmd(configPath *string) *cobra.Command {
	var (
		actor string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the most recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			var entries []audit.LogEntry
			if actor != "" {
				entries, err = svc.Audit.ListByActor(ctx, actor, limit)
			} else {
				entries, err = svc.Audit.GetLogs(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tACTION\tACTOR\tSOURCE\tDETAILS")
			for _, entry := range entries {
				details := "-"
				if entry.DetailsUnreadable {
					details = "<unreadable>"
				} else if entry.Details != nil {
					if raw, err := json.Marshal(entry.Details); err == nil {
						details = string(raw)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					entry.ID,
					entry.Timestamp.Format(time.RFC3339),
					entry.Action,
					entry.Actor,
					entry.Source,
					details,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "only entries of this actor")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	return cmd
}
