// Package fixtures declares an issue-tracker data set shared by tests: its
// models, its SQLite schema and seed rows.
package fixtures

import (
	"gqlorm/internal/model"
)

// Schema creates the tracker tables.
const Schema = `
CREATE TABLE projects (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE milestones (
	id INTEGER PRIMARY KEY,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	due_date TEXT
);
CREATE TABLE issues (
	id INTEGER PRIMARY KEY,
	milestone_id INTEGER REFERENCES milestones(id),
	title TEXT NOT NULL,
	priority INTEGER NOT NULL,
	closed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE tags (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE issue_tags (
	issue_id INTEGER NOT NULL REFERENCES issues(id),
	tag_id INTEGER NOT NULL REFERENCES tags(id),
	PRIMARY KEY (issue_id, tag_id)
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	customer TEXT NOT NULL
);
CREATE TABLE order_items (
	id INTEGER PRIMARY KEY,
	order_id INTEGER NOT NULL REFERENCES orders(id),
	price REAL NOT NULL,
	quantity INTEGER NOT NULL,
	note TEXT
);
CREATE TABLE assets (
	id INTEGER PRIMARY KEY,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	kind TEXT NOT NULL,
	name TEXT NOT NULL
);
CREATE TABLE documents (
	id INTEGER PRIMARY KEY REFERENCES assets(id),
	pages INTEGER NOT NULL
);
CREATE TABLE images (
	id INTEGER PRIMARY KEY REFERENCES assets(id),
	width INTEGER NOT NULL,
	height INTEGER NOT NULL
);
CREATE TABLE notifications (
	id INTEGER PRIMARY KEY,
	issue_id INTEGER NOT NULL REFERENCES issues(id),
	kind TEXT NOT NULL,
	subject TEXT NOT NULL,
	email TEXT,
	phone TEXT
);
`

// Seed inserts the tracker rows.
const Seed = `
INSERT INTO projects (id, name) VALUES (1, 'Compiler'), (2, 'Runtime');
INSERT INTO milestones (id, project_id, name, due_date) VALUES
	(1, 1, 'Alpha', '2026-01-15'),
	(2, 1, 'Beta', '2026-03-01'),
	(3, 2, 'GA', NULL);
INSERT INTO issues (id, milestone_id, title, priority, closed) VALUES
	(1, 1, 'Parser crash', 1, 1),
	(2, 1, 'Slow lexer', 2, 0),
	(3, 1, 'Typo in docs', 3, 0),
	(4, 2, 'Generics', 1, 0),
	(5, 3, 'GC pause', 2, 1),
	(6, NULL, 'Untriaged', 5, 0);
INSERT INTO tags (id, name) VALUES (1, 'bug'), (2, 'perf'), (3, 'docs');
INSERT INTO issue_tags (issue_id, tag_id) VALUES
	(1, 1), (2, 1), (2, 2), (3, 3), (5, 2);
INSERT INTO orders (id, customer) VALUES (1, 'ada'), (2, 'grace');
INSERT INTO order_items (id, order_id, price, quantity, note) VALUES
	(1, 1, 2.5, 4, 'pens'),
	(2, 1, 10, 1, NULL),
	(3, 2, 7.25, 2, 'rush');
INSERT INTO assets (id, project_id, kind, name) VALUES
	(1, 1, 'document', 'Spec'),
	(2, 1, 'image', 'Logo'),
	(3, 2, 'document', 'Runbook');
INSERT INTO documents (id, pages) VALUES (1, 42), (3, 7);
INSERT INTO images (id, width, height) VALUES (2, 640, 480);
INSERT INTO notifications (id, issue_id, kind, subject, email, phone) VALUES
	(1, 1, 'email', 'Crash report', 'dev@example.com', NULL),
	(2, 1, 'sms', 'Crash page', NULL, '555-0100'),
	(3, 4, 'email', 'Generics plan', 'lead@example.com', NULL);
`

func pk(name string) model.Field {
	return model.Field{Name: name, Column: name, Type: model.TypeInt, PrimaryKey: true}
}

func field(name, column string, t model.Type) model.Field {
	return model.Field{Name: name, Column: column, Type: t}
}

func nullable(name, column string, t model.Type) model.Field {
	return model.Field{Name: name, Column: column, Type: t, Nullable: true}
}

func fk(name, target, column string) model.Relation {
	return model.Relation{Name: name, Kind: model.ForeignKey, Target: target, LocalColumns: []string{column}, RemoteColumns: []string{"id"}}
}

func reverse(name, target, column string) model.Relation {
	return model.Relation{Name: name, Kind: model.OneToMany, Target: target, LocalColumns: []string{"id"}, RemoteColumns: []string{column}}
}

// Models returns freshly built tracker models. Callers may mutate them
// before registering.
func Models() []*model.Model {
	return []*model.Model{
		{
			Name:   "Project",
			Table:  "projects",
			Fields: []model.Field{pk("id"), field("name", "name", model.TypeString)},
			Relations: []model.Relation{
				reverse("milestones", "Milestone", "project_id"),
				reverse("assets", "Asset", "project_id"),
			},
		},
		{
			Name:  "Milestone",
			Table: "milestones",
			Fields: []model.Field{
				pk("id"),
				field("projectId", "project_id", model.TypeInt),
				field("name", "name", model.TypeString),
				nullable("dueDate", "due_date", model.TypeString),
			},
			Relations: []model.Relation{
				fk("project", "Project", "project_id"),
				reverse("issues", "Issue", "milestone_id"),
			},
		},
		{
			Name:  "Issue",
			Table: "issues",
			Fields: []model.Field{
				pk("id"),
				nullable("milestoneId", "milestone_id", model.TypeInt),
				field("title", "title", model.TypeString),
				field("priority", "priority", model.TypeInt),
				field("closed", "closed", model.TypeBool),
			},
			Relations: []model.Relation{
				fk("milestone", "Milestone", "milestone_id"),
				{
					Name: "tags", Kind: model.ManyToMany, Target: "Tag",
					LocalColumns: []string{"id"}, RemoteColumns: []string{"id"},
					Junction: &model.Junction{Table: "issue_tags", LocalColumns: []string{"issue_id"}, RemoteColumns: []string{"tag_id"}},
				},
				reverse("notifications", "Notification", "issue_id"),
			},
		},
		{
			Name:   "Tag",
			Table:  "tags",
			Fields: []model.Field{pk("id"), field("name", "name", model.TypeString)},
			Relations: []model.Relation{
				{
					Name: "issues", Kind: model.ManyToMany, Target: "Issue",
					LocalColumns: []string{"id"}, RemoteColumns: []string{"id"},
					Junction: &model.Junction{Table: "issue_tags", LocalColumns: []string{"tag_id"}, RemoteColumns: []string{"issue_id"}},
				},
			},
		},
		{
			Name:      "Order",
			Table:     "orders",
			Fields:    []model.Field{pk("id"), field("customer", "customer", model.TypeString)},
			Relations: []model.Relation{reverse("items", "OrderItem", "order_id")},
		},
		{
			Name:  "OrderItem",
			Table: "order_items",
			Fields: []model.Field{
				pk("id"),
				field("orderId", "order_id", model.TypeInt),
				field("price", "price", model.TypeFloat),
				field("quantity", "quantity", model.TypeInt),
				nullable("note", "note", model.TypeString),
			},
			Relations: []model.Relation{fk("order", "Order", "order_id")},
		},
		{
			Name:  "Asset",
			Table: "assets",
			Fields: []model.Field{
				pk("id"),
				field("projectId", "project_id", model.TypeInt),
				field("kind", "kind", model.TypeString),
				field("name", "name", model.TypeString),
			},
			Relations: []model.Relation{fk("project", "Project", "project_id")},
			Polymorphism: &model.Polymorphism{
				Discriminator: "kind",
				Strategy:      model.SubclassTables,
				Subtypes: []model.Subtype{
					{Name: "Document", Value: "document", Table: "documents", Fields: []model.Field{field("pages", "pages", model.TypeInt)}},
					{Name: "Image", Value: "image", Table: "images", Fields: []model.Field{
						field("width", "width", model.TypeInt),
						field("height", "height", model.TypeInt),
					}},
				},
			},
		},
		{
			Name:  "Notification",
			Table: "notifications",
			Fields: []model.Field{
				pk("id"),
				field("issueId", "issue_id", model.TypeInt),
				field("kind", "kind", model.TypeString),
				field("subject", "subject", model.TypeString),
			},
			Relations: []model.Relation{fk("issue", "Issue", "issue_id")},
			Polymorphism: &model.Polymorphism{
				Discriminator: "kind",
				Strategy:      model.TypeResolver,
				ForcePrefetch: true,
				Subtypes: []model.Subtype{
					{Name: "EmailNotification", Value: "email", Fields: []model.Field{nullable("email", "email", model.TypeString)}},
					{Name: "SmsNotification", Value: "sms", Fields: []model.Field{nullable("phone", "phone", model.TypeString)}},
				},
			},
		},
	}
}

// Registry returns a registry over Models.
func Registry() *model.Registry {
	reg, err := model.NewRegistry(Models()...)
	if err != nil {
		panic(err)
	}
	if err := reg.Validate(); err != nil {
		panic(err)
	}
	return reg
}

// Declarations turns a registry introspected from Schema into the
// polymorphic hierarchies Models describes.
func Declarations() []model.PolymorphicDeclaration {
	return []model.PolymorphicDeclaration{
		{
			Model:         "Asset",
			Discriminator: "kind",
			Strategy:      model.SubclassTables,
			Subtypes: []model.SubtypeDeclaration{
				{Value: "document", Model: "Document"},
				{Value: "image", Model: "Image"},
			},
		},
		{
			Model:         "Notification",
			Discriminator: "kind",
			Strategy:      model.TypeResolver,
			ForcePrefetch: true,
			Subtypes: []model.SubtypeDeclaration{
				{Name: "EmailNotification", Value: "email", Fields: []string{"email"}},
				{Name: "SmsNotification", Value: "sms", Fields: []string{"phone"}},
			},
		},
	}
}
