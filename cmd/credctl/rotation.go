package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func rotationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rotation", Short: "Rotation policies and records"}

	policyCreateCmd := &cobra.Command{
		Use:   "policy-create <name>",
		Short: "Create a rotation policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			days, _ := f.GetInt("days")
			reminder, _ := f.GetInt("reminder-days")
			auto, _ := f.GetBool("auto")
			approval, _ := f.GetBool("require-approval")
			result, err := newClient().post("/v1/rotation-policies", map[string]any{
				"name":             args[0],
				"rotation_days":    days,
				"reminder_days":    reminder,
				"auto_rotate":      auto,
				"require_approval": approval,
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	policyCreateCmd.Flags().Int("days", 90, "Rotation interval in days")
	policyCreateCmd.Flags().Int("reminder-days", 7, "Days before the deadline to remind")
	policyCreateCmd.Flags().Bool("auto", false, "Rotate automatically with generated secrets")
	policyCreateCmd.Flags().Bool("require-approval", false, "Never rotate automatically")

	policyListCmd := &cobra.Command{
		Use:   "policy-list",
		Short: "List rotation policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/rotation-policies")
			if err != nil {
				return err
			}
			printList(result, "id", "name", "rotation_days", "reminder_days", "auto_rotate", "is_active")
			return nil
		},
	}

	assignCmd := &cobra.Command{
		Use:   "assign <credential-id> <policy-id|none>",
		Short: "Attach or detach a credential's rotation policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policyID any
			if args[1] != "none" {
				policyID = args[1]
			}
			if _, err := newClient().put("/v1/credentials/"+pathID(args[0])+"/rotation-policy",
				map[string]any{"policy_id": policyID}); err != nil {
				return err
			}
			printSuccess("Success! Rotation policy updated.")
			return nil
		},
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule <credential-id>",
		Short: "Schedule a rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if at, _ := cmd.Flags().GetString("at"); at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				body["scheduled_for"] = t
			}
			if notes, _ := cmd.Flags().GetString("notes"); notes != "" {
				body["notes"] = notes
			}
			result, err := newClient().post("/v1/credentials/"+pathID(args[0])+"/rotations", body)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	scheduleCmd.Flags().String("at", "", "When the rotation is due (RFC 3339, default now)")
	scheduleCmd.Flags().String("notes", "", "Notes")

	listCmd := &cobra.Command{
		Use:   "list <credential-id>",
		Short: "List a credential's rotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/credentials/" + pathID(args[0]) + "/rotations")
			if err != nil {
				return err
			}
			printList(result, "id", "state", "scheduled_for", "completed_at", "created_by")
			return nil
		},
	}

	completeCmd := &cobra.Command{
		Use:   "complete <rotation-id>",
		Short: "Complete a scheduled rotation with a new secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, "secret", "New secret: ")
			if err != nil {
				return err
			}
			notes, _ := cmd.Flags().GetString("notes")
			result, err := newClient().post("/v1/rotations/"+pathID(args[0])+"/complete",
				map[string]any{"new_secret": secret, "notes": notes})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	completeCmd.Flags().String("secret", "", "New secret (read from stdin when omitted)")
	completeCmd.Flags().String("notes", "", "Notes")

	cancelCmd := &cobra.Command{
		Use:   "cancel <rotation-id>",
		Short: "Cancel a scheduled rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().post("/v1/rotations/"+pathID(args[0])+"/cancel", nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	autoCmd := &cobra.Command{
		Use:   "auto <credential-id>",
		Short: "Rotate now to a generated secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			result, err := newClient().post("/v1/credentials/"+pathID(args[0])+"/rotations/auto",
				map[string]any{"notes": notes})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	autoCmd.Flags().String("notes", "", "Notes")

	dueCmd := &cobra.Command{
		Use:   "due",
		Short: "List credentials due for rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "rotation"
			if r, _ := cmd.Flags().GetBool("reminder"); r {
				kind = "reminder"
			}
			result, err := newClient().get("/v1/rotations/due?kind=" + kind)
			if err != nil {
				return err
			}
			printList(result, "credential_id", "name", "policy_id", "auto_rotate", "due_at")
			return nil
		},
	}
	dueCmd.Flags().Bool("reminder", false, "List reminders instead of overdue rotations")

	cmd.AddCommand(policyCreateCmd, policyListCmd, assignCmd, scheduleCmd, listCmd,
		completeCmd, cancelCmd, autoCmd, dueCmd, sweepCmd())
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "analyze", Short: "Vault hygiene and breach checks"}

	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Find weak, duplicate, similar and breached secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			body := map[string]any{}
			if v, _ := f.GetString("owner"); v != "" {
				body["owner_id"] = v
			}
			if v, _ := f.GetString("folder"); v != "" {
				body["folder_id"] = v
			}
			if v, _ := f.GetInt("limit"); v > 0 {
				body["limit"] = v
			}
			if v, _ := f.GetInt("offset"); v > 0 {
				body["offset"] = v
			}
			if v, _ := f.GetBool("breach"); v {
				body["breach"] = true
			}
			result, err := newClient().post("/v1/analysis/vault", body)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	vaultCmd.Flags().String("owner", "", "Only this owner's credentials")
	vaultCmd.Flags().String("folder", "", "Only this folder")
	vaultCmd.Flags().Int("limit", 0, "Page size")
	vaultCmd.Flags().Int("offset", 0, "Page offset")
	vaultCmd.Flags().Bool("breach", false, "Also check every secret against the breach corpus")

	breachCmd := &cobra.Command{
		Use:   "breach",
		Short: "Check one candidate against the breach corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := readSecret(cmd, "secret", "Candidate: ")
			if err != nil {
				return err
			}
			result, err := newClient().post("/v1/analysis/breach", map[string]any{"password": candidate})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	breachCmd.Flags().String("secret", "", "Candidate (read from stdin when omitted)")

	cmd.AddCommand(vaultCmd, breachCmd)
	return cmd
}
