package introspection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/logging"
	"gqlorm/internal/model"
	"gqlorm/internal/naming"
	"gqlorm/internal/sqltype"
)

// BuildRegistry turns an introspected schema into models:
//   - every table or view with a primary key becomes a model and every
//     column a field
//   - a foreign key becomes a ForeignKey relation, or OneToOne when its
//     columns are also the primary key or a unique index
//   - the referenced model gets the reverse OneToMany or ReverseOneToOne
//   - pure junction tables are hidden and become ManyToMany on both sides
func BuildRegistry(ctx context.Context, schema *Schema, namer *naming.Namer) (*model.Registry, error) {
	ctx, span := startSpan(ctx, "introspection.build_relationships")
	defer span.End()

	if namer == nil {
		namer = naming.Default()
	}
	b := &registryBuilder{
		logger:     logging.FromContext(ctx),
		namer:      namer,
		schema:     schema,
		junctions:  classifyJunctions(schema),
		models:     make(map[string]*model.Model),
		typeByName: make(map[string]string),
	}

	var ordered []*model.Model
	for _, table := range schema.Tables {
		if _, isJunction := b.junctions[table.Name]; isJunction {
			continue
		}
		if len(table.PrimaryKey) == 0 {
			b.logger.Warn("skipping table without a primary key", slog.String("table", table.Name))
			continue
		}
		m := b.newModel(table)
		if other, taken := b.typeByName[m.Name]; taken {
			err := fmt.Errorf("tables %s and %s both map to type %s", other, table.Name, m.Name)
			recordSpanError(span, err)
			return nil, err
		}
		b.typeByName[m.Name] = table.Name
		b.models[table.Name] = m
		ordered = append(ordered, m)
	}

	b.addForeignKeyRelations()
	b.addJunctionRelations()

	reg, err := model.NewRegistry(ordered...)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("models", len(ordered)),
		attribute.Int("junctions", len(b.junctions)),
	)
	return reg, nil
}

type registryBuilder struct {
	logger     *logging.Logger
	namer      *naming.Namer
	schema     *Schema
	junctions  map[string]junction
	models     map[string]*model.Model // by table
	typeByName map[string]string       // type name -> table
}

func (b *registryBuilder) newModel(table Table) *model.Model {
	m := &model.Model{
		Name:  b.namer.TypeName(table.Name),
		Table: table.Name,
	}
	for _, col := range table.Columns {
		m.Fields = append(m.Fields, model.Field{
			Name:       b.namer.FieldName(col.Name),
			Column:     col.Name,
			Type:       sqltype.ModelType(col.DataType),
			PrimaryKey: col.IsPrimaryKey,
			Nullable:   col.IsNullable,
		})
	}
	return m
}

func (b *registryBuilder) addForeignKeyRelations() {
	// Count FKs per (source_table, target_table) pair. Several FKs to the same
	// target are told apart by their column names.
	fkCount := make(map[string]map[string]int)
	for _, table := range b.schema.Tables {
		for _, fk := range ForeignKeyConstraints(table) {
			if fkCount[table.Name] == nil {
				fkCount[table.Name] = make(map[string]int)
			}
			fkCount[table.Name][fk.ReferencedTable]++
		}
	}

	for _, table := range b.schema.Tables {
		source, ok := b.models[table.Name]
		if !ok {
			continue
		}
		for _, fk := range ForeignKeyConstraints(table) {
			target, ok := b.models[fk.ReferencedTable]
			if !ok {
				continue
			}
			if len(fk.ColumnNames) == 0 || len(fk.ColumnNames) != len(fk.ReferencedColumns) || hasEmpty(fk.ReferencedColumns) {
				b.logger.Warn("skipping foreign key with an incomplete column mapping",
					slog.String("table", table.Name),
					slog.String("constraint", fk.ConstraintName),
				)
				continue
			}
			onlyFK := fkCount[table.Name][fk.ReferencedTable] == 1
			unique := coversColumns(table, fk.ColumnNames)

			forward := model.Relation{
				Kind:          model.ForeignKey,
				Target:        target.Name,
				LocalColumns:  append([]string(nil), fk.ColumnNames...),
				RemoteColumns: append([]string(nil), fk.ReferencedColumns...),
			}
			reverse := model.Relation{
				Kind:          model.OneToMany,
				Target:        source.Name,
				LocalColumns:  append([]string(nil), fk.ReferencedColumns...),
				RemoteColumns: append([]string(nil), fk.ColumnNames...),
			}
			reverseName := b.namer.ReverseFieldName(table.Name, fk.ColumnNames[0], onlyFK)
			if unique {
				forward.Kind = model.OneToOne
				reverse.Kind = model.ReverseOneToOne
				reverseName = b.namer.ReverseOneFieldName(table.Name)
				if !onlyFK {
					reverseName = b.namer.ForeignKeyFieldName(fk.ColumnNames[0]) + source.Name
				}
			}

			forwardName := b.namer.ForeignKeyFieldName(fk.ColumnNames[0])
			if _, isColumn := source.Field(forwardName); isColumn && onlyFK {
				// "id REFERENCES parents(id)" names the relation after its target.
				forwardName = b.namer.SingleFieldName(target.Name)
			}
			forward.Name = b.relationName(source, forwardName, "Ref")
			source.Relations = append(source.Relations, forward)
			reverse.Name = b.relationName(target, reverseName, "Rel")
			target.Relations = append(target.Relations, reverse)
		}
	}
}

func (b *registryBuilder) addJunctionRelations() {
	for _, table := range b.schema.Tables {
		j, ok := b.junctions[table.Name]
		if !ok {
			continue
		}
		left, lok := b.models[j.Left.ReferencedTable]
		right, rok := b.models[j.Right.ReferencedTable]
		if !lok || !rok {
			continue
		}
		left.Relations = append(left.Relations, model.Relation{
			Name:          b.relationName(left, b.namer.ManyToManyFieldName(right.Table), "Rel"),
			Kind:          model.ManyToMany,
			Target:        right.Name,
			LocalColumns:  append([]string(nil), j.Left.ReferencedColumns...),
			RemoteColumns: append([]string(nil), j.Right.ReferencedColumns...),
			Junction: &model.Junction{
				Table:         j.Table,
				LocalColumns:  append([]string(nil), j.Left.ColumnNames...),
				RemoteColumns: append([]string(nil), j.Right.ColumnNames...),
			},
		})
		right.Relations = append(right.Relations, model.Relation{
			Name:          b.relationName(right, b.namer.ManyToManyFieldName(left.Table), "Rel"),
			Kind:          model.ManyToMany,
			Target:        left.Name,
			LocalColumns:  append([]string(nil), j.Right.ReferencedColumns...),
			RemoteColumns: append([]string(nil), j.Left.ReferencedColumns...),
			Junction: &model.Junction{
				Table:         j.Table,
				LocalColumns:  append([]string(nil), j.Right.ColumnNames...),
				RemoteColumns: append([]string(nil), j.Left.ColumnNames...),
			},
		})
	}
}

// relationName returns name, suffixed until it no longer collides with a
// field or relation of m.
func (b *registryBuilder) relationName(m *model.Model, name, suffix string) string {
	candidate := name
	for i := 2; b.taken(m, candidate); i++ {
		next := name + suffix
		if i > 2 {
			next = fmt.Sprintf("%s%s%d", name, suffix, i-1)
		}
		b.logger.Warn("relation name collides, renamed",
			slog.String("type", m.Name),
			slog.String("name", candidate),
			slog.String("renamed", next),
		)
		candidate = next
	}
	return candidate
}

func (b *registryBuilder) taken(m *model.Model, name string) bool {
	if _, ok := m.Field(name); ok {
		return true
	}
	if _, ok := m.Relation(name); ok {
		return true
	}
	// Generated aggregate and connection fields share the namespace.
	for _, rel := range m.Relations {
		if strings.EqualFold(rel.Name+"Count", name) || strings.EqualFold(rel.Name+"Connection", name) {
			return true
		}
	}
	return false
}

func hasEmpty(values []string) bool {
	for _, v := range values {
		if v == "" {
			return true
		}
	}
	return false
}
