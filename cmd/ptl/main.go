package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"protoline/internal/app"
	"protoline/internal/config"
	"protoline/internal/db"
	"protoline/internal/domain"
	"protoline/internal/engine"
	"protoline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ptl",
	Short: "Protoline CLI",
	Long: `Protoline tracks legal-filing protocols from intake to filing.
A new protocol is routed either to the automated (robot) lane or to a named
reviewer, walks the Aguardando -> Peticionado/Cancelado/Devolvido lifecycle,
and carries an append-only activity trail of everything done to it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROTOLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier for activity entries")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(protocolCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// printRecord renders a single record; records are always JSON, only listings
// get a table form.
func printRecord(v any) error {
	return printJSON(v)
}

func laneName(assignee *string) string {
	if assignee == nil {
		return "robô"
	}
	return *assignee
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage routing configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default protoline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective routing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	return cmd
}

func protocolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "protocol", Short: "Manage protocols"}
	cmd.AddCommand(protocolCreateCmd())
	cmd.AddCommand(protocolListCmd())
	cmd.AddCommand(protocolShowCmd())
	cmd.AddCommand(protocolUpdateCmd())
	cmd.AddCommand(protocolResubmitCmd())
	cmd.AddCommand(protocolReassignCmd())
	cmd.AddCommand(protocolDeleteCmd())
	return cmd
}

func protocolCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var documents, guias []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Documents = documents
			opts.Guias = guias
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProtocol(ctx, opts)
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProcessNumber, "process-number", "", "process number")
	cmd.Flags().StringVar(&opts.Court, "court", "", "court")
	cmd.Flags().StringVar(&opts.System, "system", "", "judicial system (PJe, eproc, ...)")
	cmd.Flags().StringVar(&opts.Degree, "degree", domain.DegreeFirst, "jurisdiction degree")
	cmd.Flags().StringVar(&opts.ProcessType, "process-type", "", "process type (cível, trabalhista)")
	cmd.Flags().StringVar(&opts.Task, "task", "", "task code")
	cmd.Flags().StringVar(&opts.PetitionType, "petition-type", "", "petition type")
	cmd.Flags().StringVar(&opts.Observations, "observations", "", "free-text observations")
	cmd.Flags().StringSliceVar(&documents, "document", nil, "attached document reference (repeatable)")
	cmd.Flags().StringSliceVar(&guias, "guia", nil, "fee-guide reference (repeatable)")
	cmd.Flags().BoolVar(&opts.IsFatal, "fatal", false, "deadline-critical")
	cmd.Flags().BoolVar(&opts.NeedsProcuration, "needs-procuration", false, "needs procuration")
	cmd.Flags().StringVar(&opts.ProcurationType, "procuration-type", "", "procuration type")
	cmd.Flags().BoolVar(&opts.NeedsGuia, "needs-guia", false, "needs fee guide")
	cmd.Flags().BoolVar(&opts.IsDistribution, "distribution", false, "first distribution of a case")
	cmd.Flags().StringVar(&opts.CreatedBy, "created-by", "", "creator employee id")
	cmd.Flags().StringVar(&opts.CreatedByEmail, "created-by-email", "", "creator email")
	_ = cmd.MarkFlagRequired("court")
	_ = cmd.MarkFlagRequired("system")
	_ = cmd.MarkFlagRequired("created-by")
	return cmd
}

func protocolListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProtocols(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Court", "System", "Status", "Queue", "Created By"})
				for _, p := range items {
					creator := p.CreatorName
					if creator == "" {
						creator = p.CreatedBy
					}
					tw.AppendRow(table.Row{p.ID, p.Court, p.System, p.Status, laneName(p.AssignedTo), creator})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func protocolShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProtocol(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	return cmd
}

func protocolUpdateCmd() *cobra.Command {
	var status, returnReason, observations, entryAction, entryDescription string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u domain.ProtocolUpdate
			if cmd.Flags().Changed("status") {
				u.Status = &status
			}
			if cmd.Flags().Changed("return-reason") {
				u.ReturnReason = &returnReason
			}
			if cmd.Flags().Changed("observations") {
				u.Observations = &observations
			}
			var entry *domain.LogEntry
			if entryAction != "" || entryDescription != "" {
				entry = &domain.LogEntry{Action: entryAction, Description: entryDescription}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.UpdateProtocol(ctx, args[0], engine.UpdateOptions{
					Update:   u,
					NewEntry: entry,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printRecord(result)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (Aguardando, Peticionado, Cancelado, Devolvido)")
	cmd.Flags().StringVar(&returnReason, "return-reason", "", "return reason")
	cmd.Flags().StringVar(&observations, "observations", "", "observations")
	cmd.Flags().StringVar(&entryAction, "entry-action", "", "extra activity entry action")
	cmd.Flags().StringVar(&entryDescription, "entry-description", "", "extra activity entry description")
	return cmd
}

func protocolResubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resubmit <id>",
		Short: "Resubmit a returned protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.ResubmitProtocol(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRecord(result)
			})
		},
	}
	return cmd
}

func protocolReassignCmd() *cobra.Command {
	var assignee string
	var toRobot bool
	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Move a pending protocol to another queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target *string
			if !toRobot {
				if assignee == "" {
					return fmt.Errorf("--assignee or --robot required")
				}
				target = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReassignProtocol(ctx, args[0], target, viper.GetString("actor-id")); err != nil {
					return err
				}
				p, err := e.GetProtocol(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "target reviewer")
	cmd.Flags().BoolVar(&toRobot, "robot", false, "move to the automated lane")
	return cmd
}

func protocolDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.DeleteProtocol(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d protocol(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect queues"}
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueShowCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Pending backlog per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.QueueCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Queue", "Pending"})
				for _, qc := range counts {
					tw.AppendRow(table.Row{laneName(qc.Assignee), qc.Pending})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func queueShowCmd() *cobra.Command {
	var assignee string
	var robot bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Pending protocols in a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var target *string
			if !robot {
				if assignee == "" {
					return fmt.Errorf("--assignee or --robot required")
				}
				target = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListQueue(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "ID", "Court", "System", "Fatal"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.QueuePosition, p.ID, p.Court, p.System, p.IsFatal})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "reviewer queue")
	cmd.Flags().BoolVar(&robot, "robot", false, "automated lane")
	return cmd
}

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "maintenance", Short: "Bulk cleanup of finalized protocols"}
	cmd.AddCommand(maintenancePreviewCmd())
	cmd.AddCommand(maintenancePurgeCmd())
	return cmd
}

func maintenancePreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview what a purge would remove",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				preview, err := e.PreviewFinalized(ctx)
				if err != nil {
					return err
				}
				return printRecord(preview)
			})
		},
	}
	return cmd
}

func maintenancePurgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all finalized protocols (irreversible)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to purge without --yes; run 'maintenance preview' first")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.PurgeFinalized(ctx)
				if err != nil {
					return err
				}
				return printRecord(result)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

func employeeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "employee", Short: "Manage employees"}
	cmd.AddCommand(employeeAddCmd())
	cmd.AddCommand(employeeListCmd())
	cmd.AddCommand(employeeRemoveCmd())
	return cmd
}

func employeeAddCmd() *cobra.Command {
	var name, email, team string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp, err := e.CreateEmployee(ctx, name, email, team)
				if err != nil {
					return err
				}
				return printRecord(emp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "employee name")
	cmd.Flags().StringVar(&email, "email", "", "employee email")
	cmd.Flags().StringVar(&team, "team", "", "team name")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func employeeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEmployees(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Team"})
				for _, emp := range items {
					tw.AppendRow(table.Row{emp.ID, emp.Name, emp.Email, emp.Team})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func employeeRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteEmployee(ctx, args[0])
			})
		},
	}
	return cmd
}

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Manage teams"}
	cmd.AddCommand(teamAddCmd())
	cmd.AddCommand(teamListCmd())
	cmd.AddCommand(teamRemoveCmd())
	return cmd
}

func teamAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTeam(ctx, name)
				if err != nil {
					return err
				}
				return printRecord(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "team name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTeams(ctx)
				if err != nil {
					return err
				}
				return printRecord(items)
			})
		},
	}
	return cmd
}

func teamRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTeam(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:    os.Getenv("PROTOLINE_JWT_SECRET"),
				DefaultActor: viper.GetString("actor-id"),
			}
			handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Protoline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
