package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var stdin io.Reader = os.Stdin

var rootCmd = &cobra.Command{
	Use:          "credctl",
	Short:        "credcore CLI",
	Long:         "A CLI for managing credentials, password policy and rotations in credcore.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(passwordPolicyCmd())
	rootCmd.AddCommand(rotationCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(tokenCmd())
}

// readSecret returns the named flag's value, or one line from stdin when the
// flag is empty or "-".
func readSecret(cmd *cobra.Command, flag, prompt string) (string, error) {
	v, _ := cmd.Flags().GetString(flag)
	if v != "" && v != "-" {
		return v, nil
	}
	if f, ok := stdin.(*os.File); ok && isTerminal(f) {
		fmt.Fprint(os.Stderr, prompt)
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s is required", flag)
	}
	return line, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func pathID(id string) string { return url.PathEscape(id) }

// --- login / health ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the server address and bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Address = addr
			}
			tok, err := readSecret(cmd, "token", "Token: ")
			if err != nil {
				return err
			}
			cfg.Token = tok
			if err := saveConfig(); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			printSuccess("Token saved to " + configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address")
	cmd.Flags().String("token", "", "Bearer token (read from stdin when omitted)")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/sys/health")
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

// --- credential ---

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "credential", Aliases: []string{"cred"}, Short: "Manage credentials"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, "secret", "Secret: ")
			if err != nil {
				return err
			}
			body := map[string]any{"name": args[0], "secret": secret}
			if v, _ := cmd.Flags().GetString("username"); v != "" {
				body["username"] = v
			}
			if v, _ := cmd.Flags().GetString("totp"); v != "" {
				body["totp_secret"] = v
			}
			if v, _ := cmd.Flags().GetString("folder"); v != "" {
				body["folder_id"] = v
			}
			if v, _ := cmd.Flags().GetString("rotation-policy"); v != "" {
				body["rotation_policy_id"] = v
			}
			result, err := newClient().post("/v1/credentials", body)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Username")
	createCmd.Flags().String("secret", "", "Secret (read from stdin when omitted)")
	createCmd.Flags().String("totp", "", "TOTP seed")
	createCmd.Flags().String("folder", "", "Folder ID")
	createCmd.Flags().String("rotation-policy", "", "Rotation policy ID")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, f := range []string{"owner_id", "folder_id", "limit", "offset"} {
				if v, _ := cmd.Flags().GetString(f); v != "" {
					q.Set(f, v)
				}
			}
			path := "/v1/credentials"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			result, err := newClient().get(path)
			if err != nil {
				return err
			}
			printList(result, "id", "name", "username", "strength", "expires_at")
			return nil
		},
	}
	for _, f := range []string{"owner_id", "folder_id", "limit", "offset"} {
		listCmd.Flags().String(f, "", "Filter/page by "+f)
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show credential metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/credentials/" + pathID(args[0]))
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	renameCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change name or username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			for _, f := range []string{"name", "username"} {
				if cmd.Flags().Changed(f) {
					v, _ := cmd.Flags().GetString(f)
					body[f] = v
				}
			}
			if len(body) == 0 {
				return errors.New("nothing to update")
			}
			result, err := newClient().patch("/v1/credentials/"+pathID(args[0]), body)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	renameCmd.Flags().String("name", "", "New name")
	renameCmd.Flags().String("username", "", "New username")

	setSecretCmd := &cobra.Command{
		Use:   "set-secret <id>",
		Short: "Replace the secret (policy and reuse rules apply)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, "secret", "New secret: ")
			if err != nil {
				return err
			}
			result, err := newClient().put("/v1/credentials/"+pathID(args[0])+"/secret", map[string]any{"secret": secret})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	setSecretCmd.Flags().String("secret", "", "Secret (read from stdin when omitted)")

	revealCmd := &cobra.Command{
		Use:   "reveal <id>",
		Short: "Decrypt and print the secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/credentials/" + pathID(args[0]) + "/reveal"
			if env, _ := cmd.Flags().GetBool("env"); env {
				out, err := newClient().raw("POST", path+"?format=env")
				if err != nil {
					return err
				}
				fmt.Fprint(stdout, out)
				return nil
			}
			result, err := newClient().post(path, nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	revealCmd.Flags().Bool("env", false, "Print as dotenv variables")

	historyCmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List history entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			result, err := newClient().get(fmt.Sprintf("/v1/credentials/%s/history?limit=%d", pathID(args[0]), limit))
			if err != nil {
				return err
			}
			printList(result, "id", "change_type", "changed_by", "strength", "created_at")
			return nil
		},
	}
	historyCmd.Flags().Int("limit", 20, "Maximum entries")

	restoreCmd := &cobra.Command{
		Use:   "restore <id> <history-id>",
		Short: "Restore a history entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().post("/v1/credentials/"+pathID(args[0])+"/restore", map[string]any{"history_id": args[1]})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	reuseCmd := &cobra.Command{
		Use:   "reuse-check <id>",
		Short: "Check whether a candidate secret was used recently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := readSecret(cmd, "secret", "Candidate: ")
			if err != nil {
				return err
			}
			result, err := newClient().post("/v1/credentials/"+pathID(args[0])+"/reuse-check", map[string]any{"password": candidate})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	reuseCmd.Flags().String("secret", "", "Candidate (read from stdin when omitted)")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/credentials/" + pathID(args[0])); err != nil {
				return err
			}
			printSuccess("Success! Credential deleted.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, renameCmd, setSecretCmd, revealCmd, historyCmd, restoreCmd, reuseCmd, deleteCmd)
	return cmd
}

// --- password policy ---

func passwordPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "password-policy", Short: "Tenant password policy"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the effective policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/password-policy")
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the tenant policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			minLen, _ := f.GetInt("min-length")
			upper, _ := f.GetBool("require-uppercase")
			lower, _ := f.GetBool("require-lowercase")
			numbers, _ := f.GetBool("require-numbers")
			special, _ := f.GetBool("require-special")
			reuse, _ := f.GetInt("prevent-reuse")
			active, _ := f.GetBool("active")
			body := map[string]any{
				"min_length":          minLen,
				"require_uppercase":   upper,
				"require_lowercase":   lower,
				"require_numbers":     numbers,
				"require_special":     special,
				"prevent_reuse_count": reuse,
				"is_active":           active,
			}
			if f.Changed("expiration-days") {
				days, _ := f.GetInt("expiration-days")
				body["expiration_days"] = days
			}
			result, err := newClient().put("/v1/password-policy", body)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	setCmd.Flags().Int("min-length", 12, "Minimum length in characters")
	setCmd.Flags().Bool("require-uppercase", true, "Require an uppercase letter")
	setCmd.Flags().Bool("require-lowercase", true, "Require a lowercase letter")
	setCmd.Flags().Bool("require-numbers", true, "Require a digit")
	setCmd.Flags().Bool("require-special", true, "Require a special character")
	setCmd.Flags().Int("prevent-reuse", 0, "Number of previous secrets that may not be reused")
	setCmd.Flags().Int("expiration-days", 0, "Days until a new secret expires")
	setCmd.Flags().Bool("active", true, "Whether the policy is enforced")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a candidate against the policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := readSecret(cmd, "secret", "Candidate: ")
			if err != nil {
				return err
			}
			result, err := newClient().post("/v1/password-policy/validate", map[string]any{"password": candidate})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	validateCmd.Flags().String("secret", "", "Candidate (read from stdin when omitted)")

	cmd.AddCommand(getCmd, setCmd, validateCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the tenant audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, f := range []string{"actor", "action", "credential_id", "since", "limit", "offset"} {
				if v, _ := cmd.Flags().GetString(f); v != "" {
					q.Set(f, v)
				}
			}
			result, err := newClient().get("/v1/sys/audit-log?" + q.Encode())
			if err != nil {
				return err
			}
			printList(result, "timestamp", "actor", "action", "credential_id", "outcome")
			return nil
		},
	}
	for _, f := range []string{"actor", "action", "credential_id", "since", "limit", "offset"} {
		cmd.Flags().String(f, "", "Filter/page by "+f)
	}
	return cmd
}
