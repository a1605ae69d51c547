package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/config"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCmd(os.Stdout, os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what the commands share once the database is open.
type app struct {
	out          io.Writer
	jsonOut      bool
	db           *store.DB
	provisioning *service.ProvisioningService
	tenants      *service.TenantService
	users        *service.UserService
}

func newRootCmd(out io.Writer, getenv func(string) string) *cobra.Command {
	a := &app{out: out}
	var driver, dsn, policy string

	root := &cobra.Command{
		Use:          "cockpitctl",
		Short:        "Operate Ellit Shield tenants and keys directly on the database",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context(), getenv, driver, dsn, policy)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&driver, "driver", "", "Database driver, sqlite or postgres (env DB_DRIVER)")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Database DSN or sqlite file (env DATABASE_URL)")
	root.PersistentFlags().StringVar(&policy, "policy", "", "Policy when the email is taken: replace, reject or merge (env REPROVISION_POLICY)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print JSON")

	root.AddCommand(
		a.provisionCmd(),
		a.issueKeyCmd(),
		a.setActiveCmd(),
		a.setFlagCmd(),
		a.listCmd(),
		a.resetPasswordCmd(),
	)
	return root
}

func (a *app) open(ctx context.Context, getenv func(string) string, driver, dsn, policy string) error {
	vars := map[string]string{}
	for _, k := range []string{"DB_DRIVER", "DATABASE_URL", "DB_QUERY_TIMEOUT", "API_KEY_PREFIX", "API_KEY_PEPPER", "REPROVISION_POLICY", "BCRYPT_COST"} {
		if v := getenv(k); v != "" {
			vars[k] = v
		}
	}
	if driver != "" {
		vars["DB_DRIVER"] = driver
	}
	if dsn != "" {
		vars["DATABASE_URL"] = dsn
	}
	if policy != "" {
		vars["REPROVISION_POLICY"] = policy
	}
	cfg, err := config.LoadFrom(vars)
	if err != nil {
		return err
	}

	dbCfg := store.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, QueryTimeout: cfg.DBQueryTimeout}
	db, err := store.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	if _, err := store.Prepare(ctx, dbCfg, db); err != nil {
		db.Close()
		return err
	}

	p, err := service.ParsePolicy(cfg.ReprovisionPolicy)
	if err != nil {
		db.Close()
		return err
	}
	tenantRepo := store.NewTenantRepository(db)
	hasher := crypto.NewHasher(cfg.APIKeyPepper)

	a.db = db
	a.provisioning = service.NewProvisioningService(tenantRepo, hasher, service.ProvisioningConfig{
		KeyPrefix: cfg.APIKeyPrefix,
		Policy:    p,
	})
	a.tenants = service.NewTenantService(tenantRepo)
	a.users = service.NewUserService(store.NewUserRepository(db), tenantRepo, service.UserServiceConfig{BcryptCost: cfg.BcryptCost})
	return nil
}

func (a *app) provisionCmd() *cobra.Command {
	var req service.ProvisionRequest
	var parent string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a tenant and print its API key once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if parent != "" {
				id, err := uuid.Parse(parent)
				if err != nil {
					return fmt.Errorf("--parent must be a tenant id: %w", err)
				}
				req.ParentTenantID = &id
			}
			res, err := a.provisioning.Provision(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"tenant": res.Tenant, "api_key": res.RawKey, "outcome": res.Outcome})
			}
			fmt.Fprintf(a.out, "tenant_id: %s\noutcome:   %s\napi_key:   %s\n", res.Tenant.ID, res.Outcome, res.RawKey)
			fmt.Fprintln(a.out, "Store the key now, it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Company name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Admin email")
	cmd.Flags().BoolVar(&req.Enterprise, "enterprise", false, "Enterprise license")
	cmd.Flags().BoolVar(&req.Prime, "prime", false, "Prime license")
	cmd.Flags().StringVar(&parent, "parent", "", "Partner tenant id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) issueKeyCmd() *cobra.Command {
	var rotate bool
	cmd := &cobra.Command{
		Use:   "issue-key TENANT_ID",
		Short: "Issue an extra API key, or replace all keys with --rotate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			key, err := a.provisioning.IssueKey(cmd.Context(), id, rotate)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]string{"api_key": key})
			}
			fmt.Fprintf(a.out, "api_key: %s\n", key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&rotate, "rotate", false, "Revoke every previous key")
	return cmd
}

func (a *app) setActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-active TENANT_ID true|false",
		Short: "Enable or disable a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			active, err := parseBool(args[1])
			if err != nil {
				return err
			}
			return a.tenants.SetActive(cmd.Context(), id, active)
		},
	}
}

func (a *app) setFlagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-flag TENANT_ID predictive|enterprise|prime true|false",
		Short: "Toggle a license flag",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			value, err := parseBool(args[2])
			if err != nil {
				return err
			}
			return a.tenants.SetFlag(cmd.Context(), id, model.Flag(args[1]), value)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenants, err := a.tenants.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(tenants)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tACTIVE\tPLAN")
			for _, t := range tenants {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", t.ID, t.Name, t.Email, t.Active, t.Plan())
			}
			return tw.Flush()
		},
	}
}

func (a *app) resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password EMAIL PASSWORD",
		Short: "Set a new password for a cockpit user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.users.ResetPassword(cmd.Context(), args[0], args[1])
		},
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "on", "1", "yes":
		return true, nil
	case "false", "off", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected true or false, got %q", s)
}
