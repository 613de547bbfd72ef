package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"peopledesk/internal/app"
	"peopledesk/internal/authz"
	"peopledesk/internal/directory"
	"peopledesk/internal/domain"
	"peopledesk/internal/engine"
	"peopledesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"permission_denied"`
	Message string         `json:"message" example:"manager cannot assign outside direct reports or department"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"assignee_id\":\"emp-7\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

var errorLog *log.Logger

func errorLogger() *log.Logger {
	if errorLog != nil {
		return errorLog
	}
	return log.Default()
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the PeopleDesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	errorLog = cfg.Auth.logger()
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(body))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("PeopleDesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDepartments(group, cfg.Engine)
	registerEmployees(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var pe *authz.PermissionError
	if errors.As(err, &pe) {
		if pe.Reason == authz.DenyAssigneeNotFound {
			// Unknown assignees surface as plain denials but are worth
			// telling apart from policy denials in the logs.
			errorLogger().Printf("WARNING: permission denial for unknown assignee %s", pe.AssigneeID)
		}
		return newAPIError(http.StatusForbidden, "permission_denied", err.Error(), map[string]any{
			"assignee_id": pe.AssigneeID,
			"reason":      pe.Reason,
		})
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), nil)
	}
	var ie *engine.IllegalStateError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "illegal_state", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, directory.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "not found") || strings.Contains(lowered, "unknown") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "illegal_state"
	case http.StatusUnprocessableEntity:
		return "validation_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// resolveActor maps the authenticated principal to a directory-backed actor.
// The role always comes from the directory, never from the token.
func resolveActor(ctx context.Context, e *engine.Engine) (domain.ActorContext, huma.StatusError) {
	id, authErr := employeeIDFromContext(ctx)
	if authErr != nil {
		return domain.ActorContext{}, authErr
	}
	actor, err := app.ResolveActor(ctx, e.Dir, id)
	if err != nil {
		return domain.ActorContext{}, newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	}
	return actor, nil
}

func requireElevated(actor domain.ActorContext) huma.StatusError {
	if actor.Role.Elevated() {
		return nil
	}
	return newAPIError(http.StatusForbidden, "permission_denied", "hr or admin role required", nil)
}

// resolveTaskRef accepts a task id or number and enforces role-scoped
// visibility. Tasks outside the actor's widest scope read as not found.
func resolveTaskRef(ctx context.Context, e *engine.Engine, actor domain.ActorContext, ref string) (domain.Task, huma.StatusError) {
	t, err := e.ResolveTask(ctx, ref)
	if err != nil {
		return domain.Task{}, handleError(err)
	}
	ok, err := e.CanView(ctx, actor, t)
	if err != nil {
		return domain.Task{}, handleError(err)
	}
	if !ok {
		return domain.Task{}, newAPIError(http.StatusNotFound, "not_found", "task "+ref+" not found", nil)
	}
	return t, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>PeopleDesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDepartments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-department",
		Method:        http.MethodPost,
		Path:          "/departments",
		Summary:       "Create department",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDepartmentRequest `json:"body"`
	}) (*struct {
		Body DepartmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireElevated(actor); err != nil {
			return nil, err
		}
		d, err := e.Dir.AddDepartment(ctx, domain.Department{ID: input.Body.ID, Name: input.Body.Name})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DepartmentResponse `json:"body"`
		}{Body: departmentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "List departments",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DepartmentResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.Dir.ListDepartments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]DepartmentResponse, 0, len(items))
		for _, d := range items {
			res = append(res, departmentResponse(d))
		}
		return &struct {
			Body []DepartmentResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEmployees(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-employee",
		Method:        http.MethodPost,
		Path:          "/employees",
		Summary:       "Create employee",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEmployeeRequest `json:"body"`
	}) (*struct {
		Body EmployeeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireElevated(actor); err != nil {
			return nil, err
		}
		emp, err := e.Dir.AddEmployee(ctx, domain.Employee{
			ID:               input.Body.ID,
			Name:             input.Body.Name,
			Role:             domain.Role(input.Body.Role),
			DepartmentID:     input.Body.DepartmentID,
			ReportingManager: input.Body.ReportingManager,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EmployeeResponse `json:"body"`
		}{Body: employeeResponse(emp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-employees",
		Method:      http.MethodGet,
		Path:        "/employees",
		Summary:     "List employees",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		DepartmentID string `query:"department_id"`
	}) (*struct {
		Body []EmployeeResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.Dir.ListEmployees(ctx, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EmployeeResponse, 0, len(items))
		for _, emp := range items {
			res = append(res, employeeResponse(emp))
		}
		return &struct {
			Body []EmployeeResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-employee",
		Method:      http.MethodGet,
		Path:        "/employees/{employee_id}",
		Summary:     "Get employee",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `path:"employee_id"`
	}) (*struct {
		Body EmployeeResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		emp, err := e.Dir.GetEmployee(ctx, input.EmployeeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EmployeeResponse `json:"body"`
		}{Body: employeeResponse(emp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-employee-active",
		Method:      http.MethodPatch,
		Path:        "/employees/{employee_id}",
		Summary:     "Activate or deactivate employee",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `path:"employee_id"`
		Body       struct {
			Active *bool `json:"active"`
		} `json:"body"`
	}) (*struct {
		Body EmployeeResponse `json:"body"`
	}, error) {
		if input.Body.Active == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "active is required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireElevated(actor); err != nil {
			return nil, err
		}
		if err := e.Dir.SetActive(ctx, input.EmployeeID, *input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		emp, err := e.Dir.GetEmployee(ctx, input.EmployeeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EmployeeResponse `json:"body"`
		}{Body: employeeResponse(emp)}, nil
	})
}

type taskBody struct {
	Body TaskResponse `json:"body"`
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Category:       domain.Category(input.Body.Category),
			Priority:       domain.Priority(input.Body.Priority),
			DueDate:        input.Body.DueDate,
			EstimatedHours: input.Body.EstimatedHours,
			Assignees:      assigneeSpecs(input.Body.Assignees),
			ParentID:       stringOrEmpty(input.Body.ParentID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "Listing is scoped by the actor's role; unauthorized views silently fall back to personal.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		View       string `query:"view" enum:"personal,team,department,organization"`
		Status     string `query:"status" enum:"assigned,in_progress,on_hold,review,completed,cancelled"`
		Priority   string `query:"priority" enum:"low,medium,high,urgent,critical"`
		Category   string `query:"category" enum:"onboarding,payroll,benefits,compliance,training,general"`
		AssigneeID string `query:"assignee_id"`
		DueBefore  string `query:"due_before"`
		DueAfter   string `query:"due_after"`
		Overdue    bool   `query:"overdue"`
		Search     string `query:"search"`
		Limit      int    `query:"limit" minimum:"1" maximum:"200"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		view := domain.View(input.View)
		if view == "" {
			view = domain.ViewPersonal
		}
		page, err := e.ListTasks(ctx, actor, view, engine.ListFilters{
			Status:     input.Status,
			Priority:   input.Priority,
			Category:   input.Category,
			AssigneeID: input.AssigneeID,
			DueBefore:  input.DueBefore,
			DueAfter:   input.DueAfter,
			Overdue:    input.Overdue,
			Search:     input.Search,
			Limit:      input.Limit,
			Cursor:     input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{
			Items:      mapTasks(page.Items),
			NextCursor: page.NextCursor,
			Stats:      statsResponse(page.Stats),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_ref}",
		Summary:     "Get task by id or number",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskRef string `path:"task_ref"`
	}) (*taskBody, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, apiErr := resolveTaskRef(ctx, e, actor, input.TaskRef)
		if apiErr != nil {
			return nil, apiErr
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-audit",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_ref}/audit",
		Summary:     "Task audit trail",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskRef string `path:"task_ref"`
		Limit   int    `query:"limit" minimum:"1" maximum:"200"`
		Cursor  int64  `query:"cursor"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, apiErr := resolveTaskRef(ctx, e, actor, input.TaskRef)
		if apiErr != nil {
			return nil, apiErr
		}
		entries, err := e.AuditTrail(ctx, t.ID, input.Limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AuditEntryResponse, 0, len(entries))
		for _, entry := range entries {
			res = append(res, auditResponse(entry))
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: res}, nil
	})

	registerTransitions(api, e)
}

// transition registers one POST /tasks/{task_ref}/<name> endpoint whose body
// carries an optional free-text field consumed by fn.
func transition(api huma.API, e *engine.Engine, opID, name, summary string, fn func(ctx context.Context, actor domain.ActorContext, taskID, text string) (domain.Task, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/tasks/{task_ref}/" + name,
		Summary:     summary,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskRef string `path:"task_ref"`
		Body    *struct {
			Reason string `json:"reason,omitempty"`
			Note   string `json:"note,omitempty"`
		} `json:"body"`
	}) (*taskBody, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, apiErr := resolveTaskRef(ctx, e, actor, input.TaskRef)
		if apiErr != nil {
			return nil, apiErr
		}
		text := ""
		if input.Body != nil {
			text = input.Body.Reason
			if text == "" {
				text = input.Body.Note
			}
		}
		t, err := fn(ctx, actor, t.ID, text)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})
}

func registerTransitions(api huma.API, e *engine.Engine) {
	transition(api, e, "accept-task", "accept", "Accept assignment",
		func(ctx context.Context, actor domain.ActorContext, taskID, _ string) (domain.Task, error) {
			return e.Accept(ctx, actor, taskID)
		})
	transition(api, e, "reject-task", "reject", "Reject assignment",
		func(ctx context.Context, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
			return e.Reject(ctx, actor, taskID, reason)
		})
	transition(api, e, "approve-task", "approve", "Approve task under review",
		func(ctx context.Context, actor domain.ActorContext, taskID, note string) (domain.Task, error) {
			return e.Approve(ctx, actor, taskID, note)
		})
	transition(api, e, "request-revision", "revision", "Send task under review back to in_progress",
		func(ctx context.Context, actor domain.ActorContext, taskID, note string) (domain.Task, error) {
			return e.RequestRevision(ctx, actor, taskID, note)
		})
	transition(api, e, "cancel-task", "cancel", "Cancel task",
		func(ctx context.Context, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
			return e.Cancel(ctx, actor, taskID, reason)
		})
	transition(api, e, "hold-task", "hold", "Put task on hold",
		func(ctx context.Context, actor domain.ActorContext, taskID, reason string) (domain.Task, error) {
			return e.Hold(ctx, actor, taskID, reason)
		})
	transition(api, e, "resume-task", "resume", "Resume task from hold",
		func(ctx context.Context, actor domain.ActorContext, taskID, _ string) (domain.Task, error) {
			return e.Resume(ctx, actor, taskID)
		})

	huma.Register(api, huma.Operation{
		OperationID: "update-progress",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_ref}/progress",
		Summary:     "Update progress or submit for review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskRef string          `path:"task_ref"`
		Body    ProgressRequest `json:"body"`
	}) (*taskBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, apiErr := resolveTaskRef(ctx, e, actor, input.TaskRef)
		if apiErr != nil {
			return nil, apiErr
		}
		t, err := e.UpdateProgress(ctx, actor, t.ID, input.Body.Progress, domain.TaskStatus(input.Body.TargetStatus))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_ref}/reassign",
		Summary:     "Replace the assignment set",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskRef string           `path:"task_ref"`
		Body    AssigneesRequest `json:"body"`
	}) (*taskBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, apiErr := resolveTaskRef(ctx, e, actor, input.TaskRef)
		if apiErr != nil {
			return nil, apiErr
		}
		t, err := e.Reassign(ctx, actor, t.ID, assigneeSpecs(input.Body.Assignees))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delegate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_ref}/delegate",
		Summary:     "Delegate to additional assignees",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskRef string           `path:"task_ref"`
		Body    AssigneesRequest `json:"body"`
	}) (*taskBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, apiErr := resolveTaskRef(ctx, e, actor, input.TaskRef)
		if apiErr != nil {
			return nil, apiErr
		}
		t, err := e.Delegate(ctx, actor, t.ID, assigneeSpecs(input.Body.Assignees))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})
}

func registerAPIKeys(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		Description:   "The key is returned once and stored only as a hash.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target := input.Body.EmployeeID
		if target == "" {
			target = actor.EmployeeID
		}
		if target != actor.EmployeeID {
			if err := requireElevated(actor); err != nil {
				return nil, err
			}
		}
		if _, err := e.Dir.GetEmployee(ctx, target); err != nil {
			return nil, handleError(err)
		}
		secret := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:         uuid.NewString(),
			EmployeeID: target,
			Name:       input.Body.Name,
			KeyHash:    repo.HashAPIKey(secret),
			CreatedAt:  e.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:         key.ID,
			EmployeeID: key.EmployeeID,
			Name:       key.Name,
			CreatedAt:  key.CreatedAt,
			Key:        secret,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EmployeeID string `query:"employee_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target := input.EmployeeID
		if !actor.Role.Elevated() {
			target = actor.EmployeeID
		}
		items, err := e.Repo.ListAPIKeys(ctx, target)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, APIKeyResponse{
				ID:         k.ID,
				EmployeeID: k.EmployeeID,
				Name:       k.Name,
				CreatedAt:  k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireElevated(actor); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, e *engine.Engine, authCfg AuthConfig) {
	if !authCfg.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		id := strings.TrimSpace(input.Body.EmployeeID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "employee_id is required", nil)
		}
		if _, err := e.Dir.GetEmployee(ctx, id); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, id, e.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
