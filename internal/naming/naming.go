package naming

import (
	"log/slog"
	"strings"
)

// reservedTypeNames are GraphQL built-ins and names the schema builder emits itself.
var reservedTypeNames = map[string]struct{}{
	"Query": {}, "Mutation": {}, "Subscription": {},
	"String": {}, "Int": {}, "Float": {}, "Boolean": {}, "ID": {},
	"PageInfo": {}, "OrderDirection": {},
}

// Namer derives GraphQL names from SQL names.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration.
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PluralOverrides == nil {
		cfg.PluralOverrides = map[string]string{}
	}
	if cfg.SingularOverrides == nil {
		cfg.SingularOverrides = map[string]string{}
	}
	return &Namer{config: cfg, logger: logger}
}

// Default returns a Namer without overrides.
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// TypeName converts a table name to a singular PascalCase type name.
// Example: "issue_tags" -> "IssueTag"
func (n *Namer) TypeName(tableName string) string {
	name := toPascalCase(n.singularLastToken(tableName))
	if _, reserved := reservedTypeNames[name]; reserved {
		n.logger.Warn("GraphQL type name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", name+"_"),
		)
		return name + "_"
	}
	return name
}

// FieldName converts a column name to camelCase.
// Example: "created_at" -> "createdAt"
func (n *Namer) FieldName(columnName string) string {
	name := toCamelCase(columnName)
	if strings.HasPrefix(name, "__") {
		return strings.TrimLeft(name, "_")
	}
	return name
}

// ListFieldName returns the plural root field for a type.
// Example: "Milestone" -> "milestones"
func (n *Namer) ListFieldName(typeName string) string {
	return lowerFirst(n.Pluralize(typeName))
}

// SingleFieldName returns the by-primary-key root field for a type.
func (n *Namer) SingleFieldName(typeName string) string {
	return lowerFirst(typeName)
}

// ForeignKeyFieldName names a many-to-one relation after its FK column.
// Example: "milestone_id" -> "milestone", "created_by_user_id" -> "createdByUser"
func (n *Namer) ForeignKeyFieldName(fkColumn string) string {
	name := fkColumn
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) && len(name) > len(suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return n.FieldName(name)
}

// ReverseFieldName names a one-to-many relation. When the source table has a
// single FK to the target, the plural table name is used; otherwise the FK name
// prefixes it.
// Example: ("issues", "milestone_id", true) -> "issues"
// Example: ("issues", "reporter_id", false) -> "reporterIssues"
func (n *Namer) ReverseFieldName(sourceTable, fkColumn string, onlyFK bool) string {
	plural := n.Pluralize(n.FieldName(sourceTable))
	if onlyFK {
		return plural
	}
	return n.ForeignKeyFieldName(fkColumn) + upperFirst(plural)
}

// ReverseOneFieldName names a reverse one-to-one relation.
func (n *Namer) ReverseOneFieldName(sourceTable string) string {
	return n.Singularize(n.FieldName(sourceTable))
}

// ManyToManyFieldName names a relation through a pure junction table.
// Example: "tags" -> "tags"
func (n *Namer) ManyToManyFieldName(targetTable string) string {
	return n.Pluralize(n.FieldName(targetTable))
}

func (n *Namer) singularLastToken(name string) string {
	parts := strings.Split(name, "_")
	last := len(parts) - 1
	parts[last] = n.Singularize(parts[last])
	return strings.Join(parts, "_")
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		parts[i] = upperFirst(part)
	}
	return strings.Join(parts, "")
}

// toCamelCase converts snake_case to camelCase
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		parts[i] = upperFirst(parts[i])
	}
	return strings.Join(parts, "")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
