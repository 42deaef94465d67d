package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gmoura/lavamon/internal/adapter/driven/machineguardian"
	"github.com/gmoura/lavamon/internal/config"
)

var startCycleCardID string

var startCycleCmd = &cobra.Command{
	Use:   "start-cycle <machine-id>",
	Short: "Start a cycle on a machine and exit",
	Long: `start-cycle logs in with the configured credentials, places an order for
the given machine, and checks it out against a payment card. The card
defaults to LAVAMON_CARD_ID and can be overridden with --card.`,
	Args: cobra.ExactArgs(1),
	RunE: runStartCycle,
}

func init() {
	startCycleCmd.Flags().StringVar(&startCycleCardID, "card", "", "payment card ID (defaults to LAVAMON_CARD_ID)")
	rootCmd.AddCommand(startCycleCmd)
}

func runStartCycle(cmd *cobra.Command, args []string) error {
	machineID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.HasCredentials() {
		return fmt.Errorf("LAVAMON_USERNAME and LAVAMON_PASSWORD must be set")
	}

	cardID := startCycleCardID
	if cardID == "" {
		cardID = cfg.CardID
	}
	if cardID == "" {
		return fmt.Errorf("no payment card: set LAVAMON_CARD_ID or pass --card")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	httpc := machineguardian.NewHTTPClient(cfg.RequestTimeout)
	session := machineguardian.NewSessionManager(httpc, cfg.BaseURL, cfg.Username, cfg.Password, nil)
	client := machineguardian.NewClient(httpc, cfg.BaseURL, cfg.LaundryID, session)

	// The order endpoint needs the machine's service ID, so resolve it from
	// the live laundry state first.
	laundry, err := client.FetchLaundry(ctx)
	if err != nil {
		return fmt.Errorf("fetching laundry state: %w", err)
	}

	serviceID := ""
	for _, m := range laundry.Machines {
		if m.ID == machineID {
			serviceID = m.ServiceID
			break
		}
	}
	if serviceID == "" {
		return fmt.Errorf("machine %s not found in laundry %s", machineID, cfg.LaundryID)
	}

	order, err := client.StartCycle(ctx, machineID, serviceID, cardID)
	if err != nil {
		return fmt.Errorf("starting cycle: %w", err)
	}

	fmt.Printf("cycle started: order=%s machine=%s total=%.2f\n", order.ID, machineID, order.TotalPrice)
	return nil
}
