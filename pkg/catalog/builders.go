package catalog

import (
	"fmt"
	"strings"
)

// agentIDProperty is declared on every tool's input schema.
var agentIDProperty = Property{Type: "string", Description: "ID of the AI agent making the call"}

func fieldProperty(f Field) Property {
	p := Property{Type: f.Type, Description: f.Description, Enum: f.Enum}
	if f.Type == "array" {
		p.Items = &Property{Type: "string"}
	}
	return p
}

// getTool describes a filterable read returning data plus count.
func getTool(e *Entity) Tool {
	props := map[string]Property{
		AgentIDArg: agentIDProperty,
		"limit":    {Type: "integer", Description: fmt.Sprintf("Maximum rows to return (default %d, max %d)", DefaultLimit, MaxLimit)},
		"offset":   {Type: "integer", Description: "Rows to skip"},
		e.IDColumn: {Type: "string", Description: "Return only the " + e.Singular + " with this ID"},
	}
	if len(e.Searchable) > 0 {
		props["search"] = Property{Type: "string", Description: "Case-insensitive match against " + joinNames(e.Searchable)}
	}
	for _, name := range e.Filterable {
		if f, ok := e.Field(name); ok {
			p := fieldProperty(f)
			p.Description = "Filter by " + f.Name
			props[name] = p
		}
	}
	return Tool{
		Name:        "get_" + e.Plural,
		Description: fmt.Sprintf("Get %s with optional filters. Returns the matching rows and their count.", e.Plural),
		InputSchema: InputSchema{Type: "object", Properties: props, Required: []string{AgentIDArg}},
		Action:      ActionGet,
		Entity:      e,
	}
}

// createTool describes an insert. Only the entity's required fields are mandatory.
func createTool(e *Entity) Tool {
	props := map[string]Property{AgentIDArg: agentIDProperty}
	for _, f := range e.Fields {
		props[f.Name] = fieldProperty(f)
	}
	return Tool{
		Name:        "create_" + e.Singular,
		Description: fmt.Sprintf("Create a new %s.", e.Singular),
		InputSchema: InputSchema{Type: "object", Properties: props, Required: append([]string{AgentIDArg}, e.Required...)},
		Action:      ActionCreate,
		Entity:      e,
	}
}

// updateTool describes a partial update: fields absent from the call are left
// untouched and fields passed as null are cleared.
func updateTool(e *Entity) Tool {
	props := map[string]Property{
		AgentIDArg: agentIDProperty,
		e.IDColumn: {Type: "string", Description: "ID of the " + e.Singular + " to update"},
	}
	for _, f := range e.Fields {
		props[f.Name] = fieldProperty(f)
	}
	return Tool{
		Name: "update_" + e.Singular,
		Description: fmt.Sprintf("Update an existing %s. Only the fields provided are changed; pass null to clear a field.",
			e.Singular),
		InputSchema: InputSchema{Type: "object", Properties: props, Required: []string{AgentIDArg, e.IDColumn}},
		Action:      ActionUpdate,
		Entity:      e,
	}
}

func deleteTool(e *Entity) Tool {
	return Tool{
		Name:        "delete_" + e.Singular,
		Description: fmt.Sprintf("Delete a %s by ID.", e.Singular),
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				AgentIDArg: agentIDProperty,
				e.IDColumn: {Type: "string", Description: "ID of the " + e.Singular + " to delete"},
			},
			Required: []string{AgentIDArg, e.IDColumn},
		},
		Action: ActionDelete,
		Entity: e,
	}
}

// crudTools returns the uniform get/create/update/delete set for an entity.
func crudTools(e *Entity) []Tool {
	return []Tool{getTool(e), createTool(e), updateTool(e), deleteTool(e)}
}

// lookupTool describes a read-only enumeration used to discover valid values.
func lookupTool(name, description string, e *Entity, params map[string]Property, required ...string) Tool {
	props := map[string]Property{AgentIDArg: agentIDProperty}
	for k, v := range params {
		props[k] = v
	}
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: InputSchema{Type: "object", Properties: props, Required: append([]string{AgentIDArg}, required...)},
		Action:      ActionLookup,
		Entity:      e,
	}
}

// standardResources returns the all/active/recent/statistics resources of a domain.
func standardResources(domain string, e *Entity) []Resource {
	return []Resource{
		{
			URI:         domain + "://all",
			Name:        "All " + e.Plural,
			Description: "Every " + e.Singular + " record",
			MIMEType:    "application/json",
		},
		{
			URI:         domain + "://active",
			Name:        "Active " + e.Plural,
			Description: "Open or active " + e.Plural,
			MIMEType:    "application/json",
		},
		{
			URI:         domain + "://recent",
			Name:        "Recent " + e.Plural,
			Description: e.Plural + " created in the last 7 days",
			MIMEType:    "application/json",
		},
		{
			URI:         domain + "://statistics",
			Name:        titleCase(e.Singular) + " statistics",
			Description: "Counts of " + e.Plural + " by status, by type, and by presence of key fields",
			MIMEType:    "application/json",
		},
	}
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
