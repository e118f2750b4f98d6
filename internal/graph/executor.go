package graph

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/introspection"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var sourceSchema string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sourceSchema})

// ResolverRoot gives access to the resolvers of each root type.
type ResolverRoot interface {
	Mutation() MutationResolver
	Query() QueryResolver
	Subscription() SubscriptionResolver
}

type MutationResolver interface {
	Ask(ctx context.Context, query string, priorTurns []TurnInput) (*Reply, error)
	CreateSession(ctx context.Context) (*Session, error)
	SendMessage(ctx context.Context, id string, query string) (*Reply, error)
	ResetSession(ctx context.Context, id string) (bool, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
}

type QueryResolver interface {
	History(ctx context.Context, id string) ([]Turn, error)
	Stats(ctx context.Context) (*ServerStats, error)
}

type SubscriptionResolver interface {
	Chat(ctx context.Context, id string, query string) (<-chan *ChatEvent, error)
}

// Config configures NewExecutableSchema.
type Config struct {
	Resolvers ResolverRoot
}

// NewExecutableSchema creates an ExecutableSchema from the resolvers in cfg.
func NewExecutableSchema(cfg Config) graphql.ExecutableSchema {
	return &executableSchema{
		resolvers: cfg.Resolvers,
		schema:    parsedSchema,
	}
}

type executableSchema struct {
	resolvers ResolverRoot
	schema    *ast.Schema
}

var _ graphql.ExecutableSchema = (*executableSchema)(nil)

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

// Complexity leaves every field at the handler's default cost.
func (e *executableSchema) Complexity(ctx context.Context, typeName, field string, childComplexity int, rawArgs map[string]any) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	ec := executionContext{opCtx, e}

	switch opCtx.Operation.Operation {
	case ast.Query, ast.Mutation:
		first := true
		op := opCtx.Operation
		return func(ctx context.Context) *graphql.Response {
			if !first {
				return nil
			}
			first = false
			var buf bytes.Buffer
			ec.root(ctx, op.Operation, op.SelectionSet).MarshalGQL(&buf)
			return &graphql.Response{Data: buf.Bytes()}
		}

	case ast.Subscription:
		next := ec.subscription(ctx, opCtx.Operation.SelectionSet)
		if next == nil {
			return graphql.OneShot(&graphql.Response{Data: []byte("null")})
		}
		var buf bytes.Buffer
		return func(ctx context.Context) *graphql.Response {
			buf.Reset()
			data := next(ctx)
			if data == nil {
				return nil
			}
			data.MarshalGQL(&buf)
			return &graphql.Response{Data: append([]byte(nil), buf.Bytes()...)}
		}

	default:
		return graphql.OneShot(&graphql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("unsupported GraphQL operation")},
		})
	}
}

type executionContext struct {
	*graphql.OperationContext
	*executableSchema
}

func rootTypeName(op ast.Operation) string {
	switch op {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// root resolves the fields of a query or mutation in document order. A failed
// non-null root field nulls the whole data object.
func (ec *executionContext) root(ctx context.Context, op ast.Operation, sel ast.SelectionSet) graphql.Marshaler {
	typeName := rootTypeName(op)
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{typeName})
	out := graphql.NewFieldSet(fields)
	invalid := false

	for i, field := range fields {
		args := field.ArgumentMap(ec.Variables)
		ctx := graphql.WithFieldContext(ctx, &graphql.FieldContext{
			Object:     typeName,
			Field:      field,
			Args:       args,
			IsMethod:   true,
			IsResolver: true,
		})

		var (
			value any
			err   error
		)
		switch field.Name {
		case "__typename":
			out.Values[i] = graphql.MarshalString(typeName)
			continue
		case "__schema":
			value, err = ec.introspectSchema()
		case "__type":
			name, _ := args["name"].(string)
			value, err = ec.introspectType(name)
		default:
			value, err = ec.resolveField(ctx, typeName, field.Name, args)
		}

		if err != nil {
			graphql.AddError(ctx, err)
			out.Values[i] = graphql.Null
			if field.Definition.Type.NonNull {
				invalid = true
			}
			continue
		}
		out.Values[i] = ec.marshal(field.Definition.Type, field.Selections, reflect.ValueOf(value))
	}

	if invalid {
		return graphql.Null
	}
	return out
}

func (ec *executionContext) resolveField(ctx context.Context, typeName, field string, args map[string]any) (any, error) {
	switch typeName + "." + field {
	case "Query.history":
		var a struct {
			ID string `json:"id"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return ec.resolvers.Query().History(ctx, a.ID)

	case "Query.stats":
		return ec.resolvers.Query().Stats(ctx)

	case "Mutation.ask":
		var a struct {
			Query      string      `json:"query"`
			PriorTurns []TurnInput `json:"priorTurns"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return ec.resolvers.Mutation().Ask(ctx, a.Query, a.PriorTurns)

	case "Mutation.createSession":
		return ec.resolvers.Mutation().CreateSession(ctx)

	case "Mutation.sendMessage":
		var a struct {
			ID    string `json:"id"`
			Query string `json:"query"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return ec.resolvers.Mutation().SendMessage(ctx, a.ID, a.Query)

	case "Mutation.resetSession", "Mutation.deleteSession":
		var a struct {
			ID string `json:"id"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if field == "resetSession" {
			return ec.resolvers.Mutation().ResetSession(ctx, a.ID)
		}
		return ec.resolvers.Mutation().DeleteSession(ctx, a.ID)
	}
	return nil, fmt.Errorf("no resolver for %s.%s", typeName, field)
}

// subscription starts the single root field of a subscription and returns a
// function yielding one payload per event, or nil once the stream ends.
func (ec *executionContext) subscription(ctx context.Context, sel ast.SelectionSet) func(ctx context.Context) graphql.Marshaler {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{"Subscription"})
	if len(fields) != 1 {
		graphql.AddErrorf(ctx, "must subscribe to exactly one stream")
		return nil
	}
	field := fields[0]
	args := field.ArgumentMap(ec.Variables)
	ctx = graphql.WithFieldContext(ctx, &graphql.FieldContext{
		Object:     "Subscription",
		Field:      field,
		Args:       args,
		IsMethod:   true,
		IsResolver: true,
	})

	var events <-chan *ChatEvent
	switch field.Name {
	case "chat":
		var a struct {
			ID    string `json:"id"`
			Query string `json:"query"`
		}
		if err := decodeArgs(args, &a); err != nil {
			graphql.AddError(ctx, err)
			return nil
		}
		ch, err := ec.resolvers.Subscription().Chat(ctx, a.ID, a.Query)
		if err != nil {
			graphql.AddError(ctx, err)
			return nil
		}
		events = ch
	default:
		graphql.AddErrorf(ctx, "unknown subscription %s", field.Name)
		return nil
	}

	return func(ctx context.Context) graphql.Marshaler {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			value := ec.marshal(field.Definition.Type, field.Selections, reflect.ValueOf(event))
			return graphql.WriterFunc(func(w io.Writer) {
				w.Write([]byte{'{'})
				graphql.MarshalString(field.Alias).MarshalGQL(w)
				w.Write([]byte{':'})
				value.MarshalGQL(w)
				w.Write([]byte{'}'})
			})
		case <-ctx.Done():
			return nil
		}
	}
}

func (ec *executionContext) introspectSchema() (*introspection.Schema, error) {
	if ec.DisableIntrospection {
		return nil, errors.New("introspection disabled")
	}
	return introspection.WrapSchema(ec.schema), nil
}

func (ec *executionContext) introspectType(name string) (*introspection.Type, error) {
	if ec.DisableIntrospection {
		return nil, errors.New("introspection disabled")
	}
	return introspection.WrapTypeFromDef(ec.schema, ec.schema.Types[name]), nil
}

// marshal projects v onto the selection set of typ. Objects are read through
// their json tags, exported fields or zero-argument methods, the last being
// how the introspection types expose themselves.
func (ec *executionContext) marshal(typ *ast.Type, sel ast.SelectionSet, v reflect.Value) graphql.Marshaler {
	v = indirect(v)
	if !v.IsValid() {
		return graphql.Null
	}

	if typ.Elem != nil {
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return graphql.Null
		}
		list := make(graphql.Array, v.Len())
		for i := range list {
			list[i] = ec.marshal(typ.Elem, sel, v.Index(i))
		}
		return list
	}

	def := ec.schema.Types[typ.NamedType]
	if def == nil || def.IsLeafType() {
		return marshalLeaf(typ.NamedType, v)
	}

	fields := graphql.CollectFields(ec.OperationContext, sel, []string{def.Name})
	out := graphql.NewFieldSet(fields)
	for i, field := range fields {
		if field.Name == "__typename" {
			out.Values[i] = graphql.MarshalString(def.Name)
			continue
		}
		child, ok := lookupField(v, field.Name, field.ArgumentMap(ec.Variables))
		if !ok {
			out.Values[i] = graphql.Null
			continue
		}
		out.Values[i] = ec.marshal(field.Definition.Type, field.Selections, child)
	}
	return out
}

// indirect follows interfaces and pointers. It returns the zero Value for nil.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func lookupField(v reflect.Value, name string, args map[string]any) (reflect.Value, bool) {
	if v.Kind() == reflect.Map {
		child := v.MapIndex(reflect.ValueOf(name))
		return child, child.IsValid()
	}

	goName := strings.ToUpper(name[:1]) + name[1:]
	recv := v
	if v.CanAddr() {
		recv = v.Addr()
	}
	if m := recv.MethodByName(goName); m.IsValid() {
		return callAccessor(m, args)
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name || (tag == "" && f.Name == goName) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// callAccessor calls a method taking nothing or the includeDeprecated flag.
func callAccessor(m reflect.Value, args map[string]any) (reflect.Value, bool) {
	t := m.Type()
	var in []reflect.Value
	switch {
	case t.NumIn() == 0:
	case t.NumIn() == 1 && t.In(0).Kind() == reflect.Bool:
		include, _ := args["includeDeprecated"].(bool)
		in = append(in, reflect.ValueOf(include).Convert(t.In(0)))
	default:
		return reflect.Value{}, false
	}
	if t.NumOut() == 0 {
		return reflect.Value{}, false
	}
	return m.Call(in)[0], true
}

func marshalLeaf(typeName string, v reflect.Value) graphql.Marshaler {
	switch v.Kind() {
	case reflect.String:
		return graphql.MarshalString(v.String())
	case reflect.Bool:
		return graphql.MarshalBoolean(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return graphql.MarshalInt64(v.Int())
	case reflect.Float32, reflect.Float64:
		if typeName == "Int" {
			return graphql.MarshalInt64(int64(v.Float()))
		}
		return graphql.MarshalFloat(v.Float())
	default:
		return graphql.Null
	}
}

// decodeArgs copies validated field arguments into dst.
func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return badInput(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return badInput(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}
