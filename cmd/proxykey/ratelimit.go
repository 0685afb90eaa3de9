package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRateLimitCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage rate limit windows and IP bans",
	}

	cmd.AddCommand(
		newRateLimitSweepCmd(configPath),
		newRateLimitUnbanCmd(configPath),
	)
	return cmd
}

func newRateLimitSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove idle windows and lapsed bans",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.Limiter.Sweep(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d idle windows, %d expired bans\n", stats.IdleWindows, stats.ExpiredBans)
			return nil
		},
	}
}

func newRateLimitUnbanCmd(configPath *string) *cobra.Command {
	var (
		ip       string
		operator string
	)

	cmd := &cobra.Command{
		Use:   "unban",
		Short: "Lift the ban on an IP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ip == "" {
				return fmt.Errorf("--ip is required")
			}
			if operator == "" {
				operator = os.Getenv("USER")
			}
			if operator == "" {
				operator = "operator"
			}

			svc, cleanup, err := openService(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.UnbanIP(context.Background(), operator, ip); err != nil {
				return err
			}
			fmt.Printf("Ban lifted for %s\n", ip)
			return nil
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "the banned IP")
	cmd.Flags().StringVar(&operator, "operator", "", "who is lifting the ban (default $USER)")
	return cmd
}
