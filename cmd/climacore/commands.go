package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"climacore/internal/brain"
	"climacore/internal/config"
	"climacore/internal/coordinator"
	"climacore/internal/ha"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the activation code against the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.settings.requireBrain(); err != nil {
				return err
			}
			client := brain.NewClient(a.settings.GatewayURL, a.settings.ActivationCode, a.logger)
			return reportValidation(cmd.OutOrStdout(), client.Validate(cmd.Context()))
		},
	}
}

func reportValidation(w io.Writer, status string) error {
	fmt.Fprintf(w, "activation code: %s\n", status)
	if status != brain.StatusValid {
		return fmt.Errorf("activation code validation failed: %s", status)
	}
	return nil
}

func newPayloadCmd(a *app) *cobra.Command {
	var triggerEntity string

	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Print the payload the next decision cycle would send",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.settings.requireHA(); err != nil {
				return err
			}
			opts, err := config.LoadOptions(a.settings.OptionsPath)
			if err != nil {
				return err
			}

			client := ha.NewClient(a.settings.HAURL, a.settings.HAToken, a.logger)
			if err := client.Connect(); err != nil {
				return fmt.Errorf("failed to connect to Home Assistant: %w", err)
			}
			defer client.Disconnect()

			// No Brain calls are made, so no gateway client is needed.
			coord := coordinator.NewCoordinator(client, nil, opts, a.logger, true)
			coord.SetLocation(a.settings.Location)
			return printPayload(cmd.OutOrStdout(), coord, triggerEntity)
		},
	}
	cmd.Flags().StringVar(&triggerEntity, "trigger", "", "entity ID to report as the trigger")
	return cmd
}

type payloadBuilder interface {
	BuildPayload(triggerEntityID string) (*coordinator.Payload, error)
}

func printPayload(w io.Writer, b payloadBuilder, triggerEntity string) error {
	payload, err := b.BuildPayload(triggerEntity)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
