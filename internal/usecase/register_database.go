package usecase

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/i2y/nlquery/internal/domain"
)

// Names of the capabilities published for the data store.
const (
	QueryToolName   = "query_db"
	SchemaURI       = "db://schema"
	SQLPromptName   = "sql_prompt"
	QuestionArgName = "question"
	SQLArgName      = "sql"
)

// DatabaseCatalog publishes the data store as a tool, a resource and a
// prompt template.
type DatabaseCatalog struct {
	store  QueryStore
	logger *slog.Logger
}

// NewDatabaseCatalog creates a new DatabaseCatalog.
func NewDatabaseCatalog(store QueryStore, logger *slog.Logger) *DatabaseCatalog {
	return &DatabaseCatalog{
		store:  store,
		logger: logger.With("usecase", "DatabaseCatalog"),
	}
}

// QueryToolDef describes query_db.
func QueryToolDef() domain.ToolDef {
	return domain.ToolDef{
		Identifier:  QueryToolName,
		Name:        QueryToolName,
		Description: "Execute a SQL query against the database and return the rows",
		Parameters: []domain.ToolParameter{
			{Name: SQLArgName, Type: domain.ParamTypeString, Required: true, Description: "SQL statement to execute"},
		},
	}
}

// SchemaResourceDef describes db://schema.
func SchemaResourceDef() domain.ResourceDef {
	return domain.ResourceDef{
		URI:         SchemaURI,
		Name:        "schema",
		Description: "Table structure of the database",
		MIMEType:    "text/plain",
	}
}

// SQLPromptDef describes sql_prompt.
func SQLPromptDef() domain.PromptTemplateDef {
	return domain.PromptTemplateDef{
		Name:        SQLPromptName,
		Description: "Build the instruction for turning a question into SQL",
		Parameters: []domain.PromptParameter{
			{Name: QuestionArgName, Description: "The user's question", Required: true},
		},
	}
}

// Execute registers query_db, db://schema and sql_prompt with registry.
func (c *DatabaseCatalog) Execute(registry CapabilityRegistry) error {
	c.logger.Info("Registering database capabilities")

	if err := registry.RegisterTool(QueryToolDef(), c.query); err != nil {
		return fmt.Errorf("failed to register tool %s: %w", QueryToolName, err)
	}
	if err := registry.RegisterResource(SchemaResourceDef(), c.schema); err != nil {
		return fmt.Errorf("failed to register resource %s: %w", SchemaURI, err)
	}
	if err := registry.RegisterPrompt(SQLPromptDef(), renderSQLPrompt); err != nil {
		return fmt.Errorf("failed to register prompt %s: %w", SQLPromptName, err)
	}

	c.logger.Info("Database capabilities registered", slog.Any("summary", registry.Summary()))
	return nil
}

// query runs the sql argument. Rows are joined with newlines; store failures
// are returned so the registry reports them as tool execution errors.
func (c *DatabaseCatalog) query(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	sql, ok := args[SQLArgName].(string)
	if !ok {
		return domain.ToolResult{}, fmt.Errorf("%w: %q must be a string", domain.ErrInvalidArguments, SQLArgName)
	}
	log := c.logger.With(slog.String("sql", sql))
	log.Info("Received SQL query")

	rows, err := c.store.Query(ctx, sql)
	if err != nil {
		log.Error("SQL query failed", slog.Any("error", err))
		return domain.ToolResult{}, err
	}
	log.Debug("SQL query completed", slog.Int("rows", len(rows)))
	return domain.ToolResult{Content: strings.Join(rows, "\n")}, nil
}

func (c *DatabaseCatalog) schema(ctx context.Context) iter.Seq2[string, error] {
	return c.store.SchemaLines(ctx)
}

func renderSQLPrompt(args map[string]string) (string, error) {
	return RenderSQLPrompt(args[QuestionArgName]), nil
}
