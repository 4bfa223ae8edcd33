package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/graphql-go/graphql"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/introspection"
	"gqlorm/internal/model"
	"gqlorm/internal/naming"
	"gqlorm/internal/resolver"
	"gqlorm/internal/schemafilter"
	"gqlorm/internal/sqlutil"
)

// BuildSchemaConfig defines inputs for schema assembly.
type BuildSchemaConfig struct {
	Queryer      introspection.Queryer
	Executor     dbexec.QueryExecutor
	Dialect      sqlutil.Dialect
	DatabaseName string
	Filters      schemafilter.Config
	Naming       naming.Config
	NamingLogger *slog.Logger
	Polymorphic  []model.PolymorphicDeclaration
	// Resolver carries the optimizer, hint and permission settings. Its
	// Registry, Executor, Dialect and Namer are filled in by BuildSchema.
	Resolver resolver.Config
}

// BuildSchemaResult contains the artifacts of one schema build.
type BuildSchemaResult struct {
	DBSchema      *introspection.Schema
	Fingerprint   string
	Registry      *model.Registry
	Resolver      *resolver.Resolver
	GraphQLSchema graphql.Schema
}

// BuildSchema introspects the database and assembles the GraphQL schema.
func BuildSchema(ctx context.Context, cfg BuildSchemaConfig) (*BuildSchemaResult, error) {
	dbSchema, err := introspect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return assemble(ctx, dbSchema, cfg)
}

func introspect(ctx context.Context, cfg BuildSchemaConfig) (*introspection.Schema, error) {
	if cfg.Queryer == nil {
		return nil, fmt.Errorf("schema builder requires an introspection queryer")
	}
	dbSchema, err := introspection.IntrospectDatabaseContext(ctx, cfg.Queryer, cfg.DatabaseName, cfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect database: %w", err)
	}
	return dbSchema, nil
}

// assemble runs the pipeline from an introspected schema: filters, model
// registry, polymorphic declarations, resolver and GraphQL schema. The
// fingerprint is taken before filtering so it tracks the database itself.
func assemble(ctx context.Context, dbSchema *introspection.Schema, cfg BuildSchemaConfig) (*BuildSchemaResult, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("schema builder requires a query executor")
	}
	fingerprint := Fingerprint(dbSchema)

	schemafilter.Apply(ctx, dbSchema, cfg.Filters)

	namer := naming.New(cfg.Naming, cfg.NamingLogger)
	registry, err := introspection.BuildRegistry(ctx, dbSchema, namer)
	if err != nil {
		return nil, fmt.Errorf("failed to build model registry: %w", err)
	}
	if len(cfg.Polymorphic) > 0 {
		registry, err = model.DeclarePolymorphic(registry, cfg.Polymorphic...)
		if err != nil {
			return nil, fmt.Errorf("failed to declare polymorphic models: %w", err)
		}
	}

	rcfg := cfg.Resolver
	rcfg.Registry = registry
	rcfg.Executor = cfg.Executor
	rcfg.Dialect = cfg.Dialect
	rcfg.Namer = namer
	res, err := resolver.New(rcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolver: %w", err)
	}
	graphqlSchema, err := res.BuildGraphQLSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}

	return &BuildSchemaResult{
		DBSchema:      dbSchema,
		Fingerprint:   fingerprint,
		Registry:      registry,
		Resolver:      res,
		GraphQLSchema: graphqlSchema,
	}, nil
}

// Fingerprint hashes the structure of an introspected schema: tables,
// columns, keys and unique indexes. Table and constraint order does not
// affect the result.
func Fingerprint(schema *introspection.Schema) string {
	tables := append([]introspection.Table(nil), schema.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	hash := sha256.New()
	for _, t := range tables {
		fmt.Fprintf(hash, "table|%s|%t|%v\n", t.Name, t.IsView, t.PrimaryKey)
		for _, c := range t.Columns {
			fmt.Fprintf(hash, "column|%s|%s|%t|%t|%t\n", c.Name, c.DataType, c.IsNullable, c.IsAutoIncrement, c.HasDefault)
		}

		fks := append([]introspection.ForeignKey(nil), t.ForeignKeys...)
		sort.Slice(fks, func(i, j int) bool {
			if fks[i].ConstraintName != fks[j].ConstraintName {
				return fks[i].ConstraintName < fks[j].ConstraintName
			}
			return fks[i].OrdinalPosition < fks[j].OrdinalPosition
		})
		for _, fk := range fks {
			fmt.Fprintf(hash, "fk|%s|%s|%s|%s|%d\n", fk.ConstraintName, fk.ColumnName, fk.ReferencedTable, fk.ReferencedColumn, fk.OrdinalPosition)
		}

		idx := append([]introspection.Index(nil), t.Indexes...)
		sort.Slice(idx, func(i, j int) bool { return idx[i].Name < idx[j].Name })
		for _, ix := range idx {
			fmt.Fprintf(hash, "index|%s|%t|%v\n", ix.Name, ix.Unique, ix.Columns)
		}
	}
	return hex.EncodeToString(hash.Sum(nil))
}
