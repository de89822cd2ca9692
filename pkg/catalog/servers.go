package catalog

import "github.com/txn2/mcp-crm-gateway/pkg/store"

// ServerVersion is reported in serverInfo for every catalog server.
const ServerVersion = "1.0.0"

// Server names, which are also the permission matrix keys.
const (
	TasksServer        = "tasks-server"
	ContactsServer     = "contacts-server"
	LeadsServer        = "leads-server"
	AppointmentsServer = "appointments-server"
	SupportServer      = "support-server"
	ExpensesServer     = "expenses-server"
	ProductsServer     = "products-server"
)

var (
	priorityEnum = []string{"Low", "Medium", "High", "Urgent"}
	taskStatuses = []string{"To Do", "In Progress", "Done", "Cancelled"}
)

// Tasks is the task entity.
var Tasks = &Entity{
	Singular: "task",
	Plural:   "tasks",
	Table:    "tasks",
	IDColumn: "task_id",
	IDPrefix: "TASK",
	Fields: []Field{
		{Name: "title", Type: "string", Description: "Short task title"},
		{Name: "description", Type: "string", Description: "Task details"},
		{Name: "status", Type: "string", Enum: taskStatuses},
		{Name: "priority", Type: "string", Enum: priorityEnum},
		{Name: "due_date", Type: "string", Description: "Due date (YYYY-MM-DD)"},
		{Name: "assigned_to", Type: "string", Description: "Admin user ID of the assignee"},
		{Name: "contact_id", Type: "string", Description: "Related contact ID"},
		{Name: "lead_id", Type: "string", Description: "Related lead ID"},
		{Name: "tags", Type: "array", Description: "Free-form labels"},
	},
	Required:       []string{"title"},
	Filterable:     []string{"status", "priority", "assigned_to", "contact_id", "lead_id"},
	Searchable:     []string{"title", "description"},
	Defaults:       map[string]any{"status": "To Do", "priority": "Medium"},
	ActiveFilters:  inFilter("status", "To Do", "In Progress"),
	StatusColumn:   "status",
	TypeColumn:     "priority",
	PresenceFields: []string{"due_date", "assigned_to", "contact_id"},
}

// RecurringTasks is the recurring task template entity.
var RecurringTasks = &Entity{
	Singular: "recurring_task",
	Plural:   "recurring_tasks",
	Table:    "recurring_tasks",
	IDColumn: "recurring_task_id",
	IDPrefix: "RTASK",
	Fields: []Field{
		{Name: "title", Type: "string", Description: "Title of the generated tasks"},
		{Name: "description", Type: "string"},
		{Name: "frequency", Type: "string", Enum: []string{"Daily", "Weekly", "Monthly", "Yearly"}},
		{Name: "repeat_interval", Type: "integer", Description: "Repeat every N frequency units"},
		{Name: "start_date", Type: "string", Description: "First occurrence (YYYY-MM-DD)"},
		{Name: "end_date", Type: "string", Description: "Last occurrence (YYYY-MM-DD)"},
		{Name: "next_run_date", Type: "string", Description: "Next scheduled occurrence (YYYY-MM-DD)"},
		{Name: "is_active", Type: "boolean"},
		{Name: "priority", Type: "string", Enum: priorityEnum},
		{Name: "assigned_to", Type: "string"},
	},
	Required:       []string{"title", "frequency", "start_date"},
	Filterable:     []string{"frequency", "is_active", "assigned_to"},
	Searchable:     []string{"title", "description"},
	Defaults:       map[string]any{"is_active": true, "repeat_interval": 1, "priority": "Medium"},
	ActiveFilters:  []store.Filter{store.Eq("is_active", true)},
	StatusColumn:   "is_active",
	TypeColumn:     "frequency",
	PresenceFields: []string{"end_date", "assigned_to"},
}

// Contacts is the contact entity.
var Contacts = &Entity{
	Singular: "contact",
	Plural:   "contacts",
	Table:    "contacts",
	IDColumn: "contact_id",
	IDPrefix: "CONT",
	Fields: []Field{
		{Name: "full_name", Type: "string"},
		{Name: "email", Type: "string"},
		{Name: "phone", Type: "string", Description: "Phone number with country code"},
		{Name: "company", Type: "string"},
		{Name: "job_title", Type: "string"},
		{Name: "status", Type: "string", Enum: []string{"Active", "Inactive", "Lead", "Customer"}},
		{Name: "contact_type", Type: "string", Enum: []string{"Individual", "Business", "Partner", "Vendor"}},
		{Name: "source", Type: "string"},
		{Name: "address", Type: "string"},
		{Name: "city", Type: "string"},
		{Name: "country", Type: "string"},
		{Name: "notes", Type: "string"},
		{Name: "tags", Type: "array"},
	},
	Required:       []string{"full_name"},
	Filterable:     []string{"status", "contact_type", "company", "city", "source"},
	Searchable:     []string{"full_name", "email", "phone", "company"},
	Defaults:       map[string]any{"status": "Active"},
	ActiveFilters:  []store.Filter{store.Eq("status", "Active")},
	StatusColumn:   "status",
	TypeColumn:     "contact_type",
	PresenceFields: []string{"email", "phone", "company"},
}

// Leads is the sales lead entity.
var Leads = &Entity{
	Singular: "lead",
	Plural:   "leads",
	Table:    "leads",
	IDColumn: "lead_id",
	IDPrefix: "LEAD",
	Fields: []Field{
		{Name: "name", Type: "string", Description: "Lead or prospect name"},
		{Name: "email", Type: "string"},
		{Name: "phone", Type: "string"},
		{Name: "company", Type: "string"},
		{Name: "source", Type: "string", Description: "Where the lead came from"},
		{Name: "status", Type: "string", Enum: []string{"New", "Contacted", "Qualified", "Proposal", "Won", "Lost"}},
		{Name: "pipeline_id", Type: "string", Description: "Pipeline ID; see list_pipelines"},
		{Name: "stage_id", Type: "string", Description: "Stage ID within the pipeline; see list_pipeline_stages"},
		{Name: "value", Type: "number", Description: "Estimated deal value"},
		{Name: "assigned_to", Type: "string"},
		{Name: "notes", Type: "string"},
		{Name: "custom_fields", Type: "object", Description: "Additional key/value data"},
	},
	Required:   []string{"name"},
	Filterable: []string{"status", "source", "pipeline_id", "stage_id", "assigned_to"},
	Searchable: []string{"name", "email", "company"},
	Defaults:   map[string]any{"status": "New"},
	ActiveFilters: []store.Filter{
		{Column: "status", Op: store.OpNeq, Value: "Won"},
		{Column: "status", Op: store.OpNeq, Value: "Lost"},
	},
	StatusColumn:   "status",
	TypeColumn:     "source",
	PresenceFields: []string{"email", "phone", "value"},
}

// Pipelines backs the list_pipelines lookup.
var Pipelines = &Entity{
	Singular: "pipeline",
	Plural:   "pipelines",
	Table:    "pipelines",
	IDColumn: "pipeline_id",
	Order:    []store.Order{{Column: "name"}},
}

// PipelineStages backs the list_pipeline_stages lookup.
var PipelineStages = &Entity{
	Singular: "pipeline_stage",
	Plural:   "pipeline_stages",
	Table:    "pipeline_stages",
	IDColumn: "stage_id",
	Order:    []store.Order{{Column: "position"}},
}

// Appointments is the appointment entity. Reads expand the assignee.
var Appointments = &Entity{
	Singular: "appointment",
	Plural:   "appointments",
	Table:    "appointments",
	IDColumn: "appointment_id",
	IDPrefix: "APPT",
	Fields: []Field{
		{Name: "title", Type: "string"},
		{Name: "start_time", Type: "string", Description: "Start time (RFC 3339)"},
		{Name: "end_time", Type: "string", Description: "End time (RFC 3339)"},
		{Name: "location", Type: "string"},
		{Name: "status", Type: "string", Enum: []string{"Scheduled", "Completed", "Cancelled", "No Show"}},
		{Name: "appointment_type", Type: "string", Enum: []string{"Meeting", "Call", "Demo", "Site Visit"}},
		{Name: "contact_id", Type: "string"},
		{Name: "lead_id", Type: "string"},
		{Name: "assigned_to", Type: "string", Description: "Admin user ID attending"},
		{Name: "notes", Type: "string"},
	},
	Required:       []string{"title", "start_time"},
	Filterable:     []string{"status", "appointment_type", "contact_id", "lead_id", "assigned_to"},
	Searchable:     []string{"title", "location", "notes"},
	Defaults:       map[string]any{"status": "Scheduled"},
	ActiveFilters:  []store.Filter{store.Eq("status", "Scheduled")},
	StatusColumn:   "status",
	TypeColumn:     "appointment_type",
	PresenceFields: []string{"location", "contact_id", "assigned_to"},
	Expand: &store.Expand{
		Column:       "assigned_to",
		ForeignTable: "admin_users",
		ForeignKey:   "id",
		As:           "assignee",
	},
}

// Tickets is the support ticket entity.
var Tickets = &Entity{
	Singular: "ticket",
	Plural:   "tickets",
	Table:    "support_tickets",
	IDColumn: "ticket_id",
	IDPrefix: "TKT",
	Fields: []Field{
		{Name: "subject", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "status", Type: "string", Enum: []string{"Open", "In Progress", "Resolved", "Closed"}},
		{Name: "priority", Type: "string", Enum: priorityEnum},
		{Name: "category", Type: "string"},
		{Name: "contact_id", Type: "string"},
		{Name: "assigned_to", Type: "string"},
	},
	Required:       []string{"subject"},
	Filterable:     []string{"status", "priority", "category", "contact_id", "assigned_to"},
	Searchable:     []string{"subject", "description"},
	Defaults:       map[string]any{"status": "Open", "priority": "Medium"},
	ActiveFilters:  inFilter("status", "Open", "In Progress"),
	StatusColumn:   "status",
	TypeColumn:     "category",
	PresenceFields: []string{"contact_id", "assigned_to"},
}

// Expenses is the expense entity.
var Expenses = &Entity{
	Singular: "expense",
	Plural:   "expenses",
	Table:    "expenses",
	IDColumn: "expense_id",
	IDPrefix: "EXP",
	Fields: []Field{
		{Name: "title", Type: "string"},
		{Name: "amount", Type: "number"},
		{Name: "currency", Type: "string"},
		{Name: "category", Type: "string"},
		{Name: "expense_date", Type: "string", Description: "Date incurred (YYYY-MM-DD)"},
		{Name: "payment_method", Type: "string", Enum: []string{"Cash", "Card", "Bank Transfer", "UPI", "Other"}},
		{Name: "status", Type: "string", Enum: []string{"Pending", "Approved", "Rejected", "Reimbursed"}},
		{Name: "vendor", Type: "string"},
		{Name: "receipt_url", Type: "string"},
		{Name: "notes", Type: "string"},
	},
	Required:       []string{"title", "amount"},
	Filterable:     []string{"category", "status", "payment_method", "vendor"},
	Searchable:     []string{"title", "vendor", "notes"},
	Defaults:       map[string]any{"status": "Pending"},
	ActiveFilters:  []store.Filter{store.Eq("status", "Pending")},
	StatusColumn:   "status",
	TypeColumn:     "category",
	PresenceFields: []string{"receipt_url", "vendor"},
}

// Products is the product catalogue entity.
var Products = &Entity{
	Singular: "product",
	Plural:   "products",
	Table:    "products",
	IDColumn: "product_id",
	IDPrefix: "PROD",
	Fields: []Field{
		{Name: "name", Type: "string"},
		{Name: "sku", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "category", Type: "string"},
		{Name: "price", Type: "number"},
		{Name: "currency", Type: "string"},
		{Name: "stock_quantity", Type: "integer"},
		{Name: "is_active", Type: "boolean"},
	},
	Required:       []string{"name"},
	Filterable:     []string{"category", "is_active", "sku"},
	Searchable:     []string{"name", "sku", "description"},
	Defaults:       map[string]any{"is_active": true},
	ActiveFilters:  []store.Filter{store.Eq("is_active", true)},
	StatusColumn:   "is_active",
	TypeColumn:     "category",
	PresenceFields: []string{"sku", "description", "price"},
}

// inFilter builds an OR group matching any of values.
func inFilter(column string, values ...string) []store.Filter {
	out := make([]store.Filter, len(values))
	for i, v := range values {
		out[i] = store.Filter{Column: column, Op: store.OpEq, Value: v, Group: column + "_in"}
	}
	return out
}

// Default returns the catalog of every CRM server.
func Default() *Catalog {
	c, err := New(
		tasksServer(),
		contactsServer(),
		leadsServer(),
		appointmentsServer(),
		simpleServer(SupportServer, "support", "Support Tickets", Tickets, Prompt{
			Name:        "triage_tickets",
			Description: "Review open tickets and propose priorities and assignees",
		}),
		simpleServer(ExpensesServer, "expenses", "Expenses", Expenses, Prompt{
			Name:        "expense_report",
			Description: "Summarize expenses by category for a period",
			Arguments:   []PromptArgument{{Name: "period", Description: "e.g. 2026-09", Required: false}},
		}),
		simpleServer(ProductsServer, "products", "Products", Products, Prompt{
			Name:        "low_stock_review",
			Description: "List active products with low stock",
		}),
	)
	if err != nil {
		// Static data: a duplicate here is a programming error.
		panic(err)
	}
	return c
}

func simpleServer(name, domain, title string, e *Entity, prompts ...Prompt) *Server {
	return &Server{
		Name:      name,
		Domain:    domain,
		Title:     title,
		Version:   ServerVersion,
		Primary:   e,
		Entities:  []*Entity{e},
		Tools:     crudTools(e),
		Resources: standardResources(domain, e),
		Prompts:   prompts,
	}
}

func tasksServer() *Server {
	s := simpleServer(TasksServer, "tasks", "Tasks", Tasks,
		Prompt{Name: "daily_task_summary", Description: "Summarize today's open and overdue tasks"},
		Prompt{
			Name:        "plan_follow_ups",
			Description: "Propose follow-up tasks for a contact",
			Arguments:   []PromptArgument{{Name: "contact_id", Description: "Contact to plan for", Required: true}},
		},
	)
	s.Entities = append(s.Entities, RecurringTasks)
	s.Tools = append(s.Tools, crudTools(RecurringTasks)...)
	return s
}

func contactsServer() *Server {
	return simpleServer(ContactsServer, "contacts", "Contacts", Contacts,
		Prompt{
			Name:        "contact_overview",
			Description: "Summarize a contact and their recent activity",
			Arguments:   []PromptArgument{{Name: "contact_id", Description: "Contact to summarize", Required: true}},
		},
	)
}

func leadsServer() *Server {
	s := simpleServer(LeadsServer, "leads", "Leads", Leads,
		Prompt{Name: "pipeline_review", Description: "Review leads per pipeline stage and suggest next actions"},
	)
	s.Entities = append(s.Entities, Pipelines, PipelineStages)
	s.Tools = append(s.Tools,
		lookupTool("list_pipelines",
			"List the valid sales pipelines. Use the returned pipeline_id when creating or updating leads.",
			Pipelines, nil),
		lookupTool("list_pipeline_stages",
			"List the valid stages of a pipeline. Use the returned stage_id when creating or updating leads.",
			PipelineStages,
			map[string]Property{"pipeline_id": {Type: "string", Description: "Pipeline to list stages for"}},
			"pipeline_id"),
	)
	return s
}

func appointmentsServer() *Server {
	return simpleServer(AppointmentsServer, "appointments", "Appointments", Appointments,
		Prompt{Name: "agenda", Description: "Summarize upcoming scheduled appointments"},
	)
}
