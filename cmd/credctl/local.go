package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/org/credcore/internal/app"
	"github.com/org/credcore/internal/auth"
	"github.com/org/credcore/internal/config"
	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/keysource"
)

// Commands in this file run against the server configuration directly
// instead of the API.

func serverConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	c, err := config.Load(path, envFile)
	if err != nil {
		return nil, err
	}
	c.ConfigureLogging()
	return c, nil
}

func addServerConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Server config file (default $CREDCORE_CONFIG or config.yaml)")
	cmd.Flags().String("env-file", ".env", "Dotenv file loaded first")
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate encryption key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := crypto.GenerateKeyMaterial()
			if err != nil {
				return err
			}
			store, _ := cmd.Flags().GetString("store")
			switch store {
			case "":
				fmt.Fprintf(stdout, "%s=%s\n", keysource.DefaultEnvVar, raw)
			case "keyring":
				service, _ := cmd.Flags().GetString("keyring-service")
				user, _ := cmd.Flags().GetString("keyring-user")
				ks := keysource.NewKeyring(service, user)
				if err := ks.Store(raw); err != nil {
					return err
				}
				printSuccess("Success! Key stored in " + ks.Name())
			default:
				return fmt.Errorf("unknown --store %q", store)
			}
			return nil
		},
	}
	cmd.Flags().String("store", "", "Where to put the key: empty prints it, keyring stores it in the OS keyring")
	cmd.Flags().String("keyring-service", "", "Keyring service name")
	cmd.Flags().String("keyring-user", "", "Keyring user name")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer token management"}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with the server's auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := serverConfig(cmd)
			if err != nil {
				return err
			}
			if c.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			actor, _ := cmd.Flags().GetString("actor")
			tenant, _ := cmd.Flags().GetString("tenant")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			tok, err := auth.Issue(c.Auth.JWTSecret, c.Auth.Issuer, c.Auth.Audience,
				auth.Principal{Actor: actor, TenantID: tenant}, ttl)
			if err != nil {
				return err
			}
			if save, _ := cmd.Flags().GetBool("save"); save {
				cfg.Token = tok
				if err := saveConfig(); err != nil {
					return fmt.Errorf("saving config: %w", err)
				}
				printSuccess("Token saved to " + configPath())
				return nil
			}
			fmt.Fprintln(stdout, tok)
			return nil
		},
	}
	addServerConfigFlags(issueCmd)
	issueCmd.Flags().String("actor", "", "Subject (actor) claim")
	issueCmd.Flags().String("tenant", "", "Tenant claim")
	issueCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	issueCmd.Flags().Bool("save", false, "Store the token in the CLI config")
	issueCmd.MarkFlagRequired("actor")  //nolint:errcheck
	issueCmd.MarkFlagRequired("tenant") //nolint:errcheck

	cmd.AddCommand(issueCmd)
	return cmd
}

// sweepCmd rotates every due credential across all tenants. It is meant for
// cron and runs with the server's storage and key.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Auto-rotate all due credentials whose policy allows it",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := serverConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()
			a, err := app.New(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			actor, _ := cmd.Flags().GetString("actor")
			res, err := a.Scheduler.Sweep(ctx, time.Now().UTC(), actor)
			if res != nil {
				failed := map[string]any{}
				for id, msg := range res.Failed {
					failed[id] = msg
				}
				printResult(map[string]any{
					"rotated": toAny(res.Rotated),
					"manual":  toAny(res.Manual),
					"failed":  failed,
				})
			}
			if err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d rotations failed", len(res.Failed))
			}
			return nil
		},
	}
	addServerConfigFlags(cmd)
	cmd.Flags().String("actor", "credctl-sweep", "Actor recorded in history and audit")
	return cmd
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
