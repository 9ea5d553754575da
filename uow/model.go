package uow

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Model is an entity the session can write. Columns excludes the primary key.
type Model interface {
	PrimaryKey() (column string, value any)
	Columns() (names []string, values []any)
}

// TableNamer provides a custom table name for a model.
type TableNamer interface {
	TableName() string
}

// tableName resolves the table for m: TableName() when implemented, otherwise the
// plural snake_case form of the struct name (Customer -> customers).
func tableName(m Model) string {
	if namer, ok := m.(TableNamer); ok {
		if name := strings.TrimSpace(namer.TableName()); name != "" {
			return name
		}
	}
	typ := reflect.TypeOf(m)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return inflection.Plural(toSnakeCase(typ.Name()))
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// snapshot returns a shallow copy of a pointer-to-struct model so later mutations of
// the tracked entity leave the original values intact. Other models are returned as is.
func snapshot(m Model) Model {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return m
	}
	c := reflect.New(v.Elem().Type())
	c.Elem().Set(v.Elem())
	if cm, ok := c.Interface().(Model); ok {
		return cm
	}
	return m
}
