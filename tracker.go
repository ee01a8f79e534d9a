package karst

import (
	"github.com/karstdb/karst/compiler"
	"github.com/karstdb/karst/dialect"
	sqlx "github.com/karstdb/karst/dialect/sql"
)

// Statement building for the persist pipeline. Columns always render in
// model attribute order, so identical instances produce identical SQL.

// insertStmt renders the INSERT for an unpersisted instance. On Postgres
// the primary key is returned with RETURNING; other dialects read it from
// the driver's last-insert id.
func insertStmt(in *Instance, d string) compiler.Stmt {
	model := in.Model()
	b := sqlx.NewBuilder(d)
	b.S("INSERT INTO ").Ident(model.Table()).S(" (")
	var cols []string
	var args []any
	for _, attr := range model.Attributes() {
		v, ok := in.values[attr.Name]
		if !ok {
			continue
		}
		if attr.OnStore != nil {
			v = attr.OnStore(v)
		}
		cols = append(cols, attr.Name)
		args = append(args, v)
	}
	for i, c := range cols {
		if i > 0 {
			b.S(", ")
		}
		b.Ident(c)
	}
	b.S(") VALUES (").Args(args...).S(")")
	if d == dialect.Postgres {
		b.S(" RETURNING ").Ident(model.ID())
	}
	return compiler.Stmt{SQL: b.String(), Args: b.TakeArgs()}
}

// updateStmt renders the minimal UPDATE for a loaded instance: only
// changed attributes are set, the primary key and immutable attributes
// are never set, and when the model carries a version column the
// statement bumps it and guards on the version the row holds for this
// writer. The second result is false when nothing changed.
func updateStmt(in *Instance, d string) (compiler.Stmt, bool) {
	model := in.Model()
	pk := model.ID()
	version := model.VersionAttribute()
	changes := in.Changes()
	delete(changes, pk)
	delete(changes, version)
	for _, attr := range model.Attributes() {
		if attr.Immutable {
			delete(changes, attr.Name)
		}
	}
	if len(changes) == 0 {
		return compiler.Stmt{}, false
	}
	b := sqlx.NewBuilder(d)
	b.S("UPDATE ").Ident(model.Table()).S(" SET ")
	first := true
	for _, attr := range model.Attributes() {
		v, ok := changes[attr.Name]
		if !ok {
			continue
		}
		if attr.OnStore != nil {
			v = attr.OnStore(v)
		}
		if !first {
			b.S(", ")
		}
		first = false
		b.Ident(attr.Name).S(" = ").Arg(v)
	}
	if version != "" {
		b.S(", ").Ident(version).S(" = ").Ident(version).S(" + 1")
	}
	b.S(" WHERE ").Ident(pk).S(" = ").Arg(in.ID())
	if version != "" {
		b.S(" AND ").Ident(version).S(" = ").Arg(in.guardVersion())
	}
	return compiler.Stmt{SQL: b.String(), Args: b.TakeArgs()}, true
}

// deleteStmt renders the DELETE for a loaded instance, guarded on the
// version column when the model carries one.
func deleteStmt(in *Instance, d string) compiler.Stmt {
	model := in.Model()
	b := sqlx.NewBuilder(d)
	b.S("DELETE FROM ").Ident(model.Table())
	b.S(" WHERE ").Ident(model.ID()).S(" = ").Arg(in.ID())
	if version := model.VersionAttribute(); version != "" {
		b.S(" AND ").Ident(version).S(" = ").Arg(in.guardVersion())
	}
	return compiler.Stmt{SQL: b.String(), Args: b.TakeArgs()}
}
