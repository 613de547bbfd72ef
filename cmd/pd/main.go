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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"peopledesk/internal/app"
	"peopledesk/internal/config"
	"peopledesk/internal/db"
	"peopledesk/internal/domain"
	"peopledesk/internal/engine"
	"peopledesk/internal/migrate"
	"peopledesk/internal/repo"
	"peopledesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pd",
	Short: "PeopleDesk CLI",
	Long: `PeopleDesk assigns and tracks HR tasks with role-based authorization.
- Workspace: the .peopledesk directory holding the task database.
- Directory: departments and employees with roles (employee, manager, hr, admin).
- Tasks: work items flowing assigned -> in_progress -> review -> completed,
  with on_hold and cancelled as side exits. Each gets a number like TSK-0001.
- Assignments: who a task targets; assignees accept, reject, or delegate.
- Permissions: who may assign to whom follows role, reporting line, and
  department; every decision carries a reason.
- Audit: every transition writes one audit row, view with 'pd task audit'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
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
	viper.SetEnvPrefix("PEOPLEDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting employee id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(departmentCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func departmentCmd() *cobra.Command {
	dep := &cobra.Command{Use: "department", Short: "Manage departments"}
	dep.AddCommand(departmentAddCmd())
	dep.AddCommand(departmentListCmd())
	return dep
}

func departmentAddCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.Dir.AddDepartment(ctx, domain.Department{ID: id, Name: name})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "department id")
	cmd.Flags().StringVar(&name, "name", "", "department name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func departmentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Dir.ListDepartments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func employeeCmd() *cobra.Command {
	emp := &cobra.Command{Use: "employee", Short: "Manage the employee directory"}
	emp.AddCommand(employeeAddCmd())
	emp.AddCommand(employeeListCmd())
	emp.AddCommand(employeeShowCmd())
	emp.AddCommand(employeeDeactivateCmd())
	return emp
}

func employeeAddCmd() *cobra.Command {
	var id, name, role, department, manager string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				emp := domain.Employee{
					ID:           id,
					Name:         name,
					Role:         domain.Role(role),
					DepartmentID: department,
				}
				if manager != "" {
					emp.ReportingManager = &manager
				}
				out, err := e.Dir.AddEmployee(ctx, emp)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "employee id")
	cmd.Flags().StringVar(&name, "name", "", "employee name")
	cmd.Flags().StringVar(&role, "role", "employee", "role (employee, manager, hr, admin)")
	cmd.Flags().StringVar(&department, "department", "", "department id")
	cmd.Flags().StringVar(&manager, "manager", "", "reporting manager employee id")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("department")
	return cmd
}

func employeeListCmd() *cobra.Command {
	var department string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Dir.ListEmployees(ctx, department)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Department", "Manager", "Active"})
				for _, emp := range items {
					manager := ""
					if emp.ReportingManager != nil {
						manager = *emp.ReportingManager
					}
					tw.AppendRow(table.Row{emp.ID, emp.Name, emp.Role, emp.DepartmentID, manager, emp.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "filter by department id")
	return cmd
}

func employeeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				emp, err := e.Dir.GetEmployee(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	return cmd
}

func employeeDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Dir.SetActive(ctx, args[0], false); err != nil {
					return err
				}
				emp, err := e.Dir.GetEmployee(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long: `Tasks flow assigned -> in_progress -> review -> completed. Assignees accept
or reject, report progress, and submit for review; whoever holds authority
over the owner approves or requests revision. Every transition is audited.`,
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskAcceptCmd())
	task.AddCommand(taskRejectCmd())
	task.AddCommand(taskProgressCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRevisionCmd())
	task.AddCommand(taskReassignCmd())
	task.AddCommand(taskDelegateCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskHoldCmd())
	task.AddCommand(taskResumeCmd())
	task.AddCommand(taskAuditCmd())
	return task
}

func parseAssignees(values []string) []engine.AssigneeSpec {
	specs := make([]engine.AssigneeSpec, 0, len(values))
	for _, v := range values {
		id, role, found := strings.Cut(v, ":")
		spec := engine.AssigneeSpec{EmployeeID: strings.TrimSpace(id)}
		if found {
			spec.Role = domain.AssignmentRole(strings.TrimSpace(role))
		}
		specs = append(specs, spec)
	}
	return specs
}

func taskCreateCmd() *cobra.Command {
	var title, description, category, priority, due, parent string
	var hours float64
	var assignees []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.ActorContext) error {
				t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
					Title:          title,
					Description:    description,
					Category:       domain.Category(category),
					Priority:       domain.Priority(priority),
					DueDate:        due,
					EstimatedHours: hours,
					Assignees:      parseAssignees(assignees),
					ParentID:       parent,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&category, "category", "", "category (onboarding, payroll, benefits, compliance, training, general)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high, urgent, critical)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	cmd.Flags().StringArrayVar(&assignees, "assignee", nil, "assignee as id or id:role, repeatable; first defaults to owner")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id or number")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.ListFilters
	var view string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the actor's scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.ActorContext) error {
				v := domain.View(view)
				if v == "" {
					v = domain.ViewPersonal
				}
				page, err := e.ListTasks(ctx, actor, v, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"items":       page.Items,
						"next_cursor": page.NextCursor,
						"stats":       page.Stats,
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Title", "Status", "Priority", "Progress", "Due", "Assignees"})
				for _, t := range page.Items {
					ids := make([]string, 0, len(t.Assignments))
					for _, a := range t.Assignments {
						ids = append(ids, a.EmployeeID)
					}
					tw.AppendRow(table.Row{t.Number, t.Title, t.Status, t.Priority, fmt.Sprintf("%d%%", t.Progress), t.DueDate, strings.Join(ids, ",")})
				}
				tw.Render()
				fmt.Printf("Total %d, completed %d, overdue %d, high priority %d, avg progress %.1f%%\n",
					page.Stats.Total, page.Stats.Completed, page.Stats.Overdue, page.Stats.HighPriority, page.Stats.AvgProgress)
				if page.NextCursor != "" {
					fmt.Printf("Next cursor: %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "view (personal, team, department, organization)")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&f.DueBefore, "due-before", "", "due before date")
	cmd.Flags().StringVar(&f.DueAfter, "due-after", "", "due after date")
	cmd.Flags().BoolVar(&f.Overdue, "overdue", false, "only overdue tasks")
	cmd.Flags().StringVar(&f.Search, "search", "", "search in title and description")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&f.Cursor, "cursor", "", "pagination cursor")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task>",
		Short: "Show a task by id or number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

// transitionCmd builds a single-argument task command whose engine call takes
// an optional free-text flag.
func transitionCmd(use, short, flagName, flagUsage string, fn func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, text string) (domain.Task, error)) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   use + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.ActorContext) error {
				t, err := e.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				t, err = fn(ctx, e, actor, t.ID, text)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	if flagName != "" {
		cmd.Flags().StringVar(&text, flagName, "", flagUsage)
	}
	return cmd
}

func taskAcceptCmd() *cobra.Command {
	return transitionCmd("accept", "Accept your assignment", "", "",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, _ string) (domain.Task, error) {
			return e.Accept(ctx, actor, taskID)
		})
}

func taskRejectCmd() *cobra.Command {
	return transitionCmd("reject", "Reject your assignment", "reason", "rejection reason",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
			return e.Reject(ctx, actor, taskID, reason)
		})
}

func taskApproveCmd() *cobra.Command {
	return transitionCmd("approve", "Approve a task under review", "note", "approval note",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, note string) (domain.Task, error) {
			return e.Approve(ctx, actor, taskID, note)
		})
}

func taskRevisionCmd() *cobra.Command {
	return transitionCmd("revision", "Send a task under review back to in_progress", "note", "what needs revising",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, note string) (domain.Task, error) {
			return e.RequestRevision(ctx, actor, taskID, note)
		})
}

func taskCancelCmd() *cobra.Command {
	return transitionCmd("cancel", "Cancel a task", "reason", "cancellation reason",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
			return e.Cancel(ctx, actor, taskID, reason)
		})
}

func taskHoldCmd() *cobra.Command {
	return transitionCmd("hold", "Put a task on hold", "reason", "hold reason",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
			return e.Hold(ctx, actor, taskID, reason)
		})
}

func taskResumeCmd() *cobra.Command {
	return transitionCmd("resume", "Resume a task from hold", "", "",
		func(ctx context.Context, e *engine.Engine, actor domain.ActorContext, taskID, _ string) (domain.Task, error) {
			return e.Resume(ctx, actor, taskID)
		})
}

func taskProgressCmd() *cobra.Command {
	var progress int
	var submit bool
	cmd := &cobra.Command{
		Use:   "progress <task>",
		Short: "Update progress or submit for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.ActorContext) error {
				t, err := e.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				target := domain.TaskStatus("")
				if submit {
					target = domain.StatusReview
				}
				t, err = e.UpdateProgress(ctx, actor, t.ID, progress, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percentage 0-100")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit for review (forces progress to 100)")
	_ = cmd.MarkFlagRequired("progress")
	return cmd
}

func taskReassignCmd() *cobra.Command {
	var assignees []string
	cmd := &cobra.Command{
		Use:   "reassign <task>",
		Short: "Replace the assignment set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.ActorContext) error {
				t, err := e.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				t, err = e.Reassign(ctx, actor, t.ID, parseAssignees(assignees))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&assignees, "assignee", nil, "assignee as id or id:role, repeatable")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskDelegateCmd() *cobra.Command {
	var assignees []string
	cmd := &cobra.Command{
		Use:   "delegate <task>",
		Short: "Delegate to additional assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.ActorContext) error {
				t, err := e.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				t, err = e.Delegate(ctx, actor, t.ID, parseAssignees(assignees))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&assignees, "assignee", nil, "assignee as id or id:role, repeatable")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <task>",
		Short: "Show a task's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.ResolveTask(ctx, args[0])
				if err != nil {
					return err
				}
				entries, err := e.AuditTrail(ctx, t.ID, limit, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Action", "By", "To", "Reason"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.TS, entry.Action, entry.PerformedBy, entry.To, entry.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var employee, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if _, err := e.Dir.GetEmployee(ctx, employee); err != nil {
					return err
				}
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:         uuid.NewString(),
					EmployeeID: employee,
					Name:       name,
					KeyHash:    repo.HashAPIKey(secret),
					CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":          key.ID,
					"employee_id": key.EmployeeID,
					"name":        key.Name,
					"key":         secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee id the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("employee")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, employee)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Employee", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.EmployeeID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "filter by employee id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
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
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("PEOPLEDESK_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("a JWT secret is required; set server.jwt_secret or PEOPLEDESK_JWT_SECRET")
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
					DevLogin:               cfg.Server.DevLogin,
				},
			})
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
			fmt.Printf("Serving PeopleDesk API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withActor(ctx context.Context, fn func(context.Context, *engine.Engine, domain.ActorContext) error) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
		actor, err := app.ResolveActor(ctx, e.Dir, viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
