package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"

	"gqlorm/internal/observability"
)

// RequestInfo is what the middleware chain learns about a GraphQL request
// before it is executed. Analysis never fails the request on its own; the
// GraphQL handler reports malformed documents.
type RequestInfo struct {
	Query         string
	RequestedName string

	Operation *ast.OperationDefinition
	Fragments map[string]*ast.FragmentDefinition

	OperationName string
	OperationType string
	FieldCount    int
	Depth         int
	VariableCount int
	Hash          string

	Err error
}

const anonymousOperation = "<anonymous>"

// AnalyzeRequest reads the GraphQL payload from r and rewinds the body so
// the GraphQL handler can read it again. GET requests take the query from
// the URL; POST bodies are JSON unless sent as application/graphql.
func AnalyzeRequest(r *http.Request) *RequestInfo {
	info := &RequestInfo{}
	switch r.Method {
	case http.MethodGet:
		info.Query = r.URL.Query().Get("query")
		info.RequestedName = r.URL.Query().Get("operationName")
	case http.MethodPost:
		if err := info.decodeBody(r); err != nil {
			info.Err = err
			return info
		}
	}
	if strings.TrimSpace(info.Query) == "" {
		return info
	}
	info.Err = info.analyze()
	return info
}

func (ri *RequestInfo) decodeBody(r *http.Request) error {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/graphql" {
		ri.Query = string(body)
		return nil
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	var payload struct {
		Query         string `json:"query"`
		OperationName string `json:"operationName"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	ri.Query = payload.Query
	ri.RequestedName = payload.OperationName
	return nil
}

func (ri *RequestInfo) analyze() error {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(ri.Query), Name: "GraphQL request"}),
	})
	if err != nil {
		return err
	}

	ri.Fragments = map[string]*ast.FragmentDefinition{}
	var operations []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			operations = append(operations, d)
		case *ast.FragmentDefinition:
			if d.Name != nil {
				ri.Fragments[d.Name.Value] = d
			}
		}
	}

	op, err := selectOperation(operations, ri.RequestedName)
	if err != nil {
		return err
	}
	ri.Operation = op
	ri.OperationName = anonymousOperation
	if op.Name != nil && op.Name.Value != "" {
		ri.OperationName = op.Name.Value
	}
	ri.OperationType = string(op.Operation)
	ri.VariableCount = len(op.VariableDefinitions)
	ri.FieldCount, ri.Depth = measure(op.SelectionSet, ri.Fragments, 1, map[string]bool{})

	hash, err := ri.operationHash()
	if err != nil {
		return err
	}
	ri.Hash = hash
	return nil
}

func selectOperation(operations []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		for _, op := range operations {
			if op.Name != nil && op.Name.Value == name {
				return op, nil
			}
		}
		return nil, fmt.Errorf("unknown operation named %q", name)
	}
	switch len(operations) {
	case 0:
		return nil, errors.New("request does not include an operation")
	case 1:
		return operations[0], nil
	default:
		return nil, errors.New("operationName is required when request has multiple operations")
	}
}

// measure counts fields and returns the deepest field level reached. Root
// fields are at depth 1; fragments add no depth of their own. A fragment
// already being expanded on the current path is skipped.
func measure(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, depth int, expanding map[string]bool) (fields, maxDepth int) {
	if set == nil {
		return 0, depth - 1
	}
	maxDepth = depth
	add := func(f, d int) {
		fields += f
		maxDepth = max(maxDepth, d)
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields++
			if sel.SelectionSet != nil {
				add(measure(sel.SelectionSet, fragments, depth+1, expanding))
			}
		case *ast.InlineFragment:
			add(measure(sel.SelectionSet, fragments, depth, expanding))
		case *ast.FragmentSpread:
			if sel.Name == nil || expanding[sel.Name.Value] {
				continue
			}
			frag, ok := fragments[sel.Name.Value]
			if !ok {
				continue
			}
			expanding[sel.Name.Value] = true
			add(measure(frag.SelectionSet, fragments, depth, expanding))
			delete(expanding, sel.Name.Value)
		}
	}
	return fields, maxDepth
}

// operationHash identifies the executed operation independently of
// formatting and of unrelated definitions in the same document: the selected
// operation and the fragments it reaches are printed in a canonical order
// and hashed together with the operation name.
func (ri *RequestInfo) operationHash() (string, error) {
	reached := map[string]bool{}
	var visit func(set *ast.SelectionSet)
	visit = func(set *ast.SelectionSet) {
		if set == nil {
			return
		}
		for _, selection := range set.Selections {
			switch sel := selection.(type) {
			case *ast.Field:
				visit(sel.SelectionSet)
			case *ast.InlineFragment:
				visit(sel.SelectionSet)
			case *ast.FragmentSpread:
				if sel.Name == nil || reached[sel.Name.Value] {
					continue
				}
				reached[sel.Name.Value] = true
				if frag, ok := ri.Fragments[sel.Name.Value]; ok {
					visit(frag.SelectionSet)
				}
			}
		}
	}
	visit(ri.Operation.SelectionSet)

	names := make([]string, 0, len(reached))
	for name := range reached {
		names = append(names, name)
	}
	slices.Sort(names)

	defs := []ast.Node{ri.Operation}
	for _, name := range names {
		frag, ok := ri.Fragments[name]
		if !ok {
			return "", fmt.Errorf("unknown fragment %q", name)
		}
		defs = append(defs, frag)
	}
	printed, ok := printer.Print(ast.NewDocument(&ast.Document{Definitions: defs})).(string)
	if !ok {
		return "", errors.New("canonical document did not print as text")
	}

	h := sha256.New()
	for _, part := range []string{printed, ri.OperationName} {
		_, _ = fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OperationInfo converts the analysis for spans and log records.
func (ri *RequestInfo) OperationInfo() observability.OperationInfo {
	if ri == nil {
		return observability.OperationInfo{}
	}
	return observability.OperationInfo{
		RequestedName: ri.RequestedName,
		Name:          ri.OperationName,
		Type:          ri.OperationType,
		Hash:          ri.Hash,
		DocumentSize:  len(ri.Query),
		FieldCount:    ri.FieldCount,
		Depth:         ri.Depth,
		VariableCount: ri.VariableCount,
		Parsed:        ri.Operation != nil,
	}
}

// operationTypeOrUnknown is the metrics label for the request.
func (ri *RequestInfo) operationTypeOrUnknown() string {
	if ri == nil || ri.OperationType == "" {
		return "unknown"
	}
	return ri.OperationType
}

type requestInfoKey struct{}

// WithRequestInfo stores the request analysis in ctx.
func WithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the analysis stored by
// GraphQLRequestMiddleware, or nil.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// GraphQLRequestMiddleware analyzes every GraphQL request once and stores the
// result in the request context for the middleware below it. Operations
// nested deeper than maxDepth are rejected before execution; zero disables
// the limit.
func GraphQLRequestMiddleware(maxDepth int, metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := AnalyzeRequest(r)
			ctx := WithRequestInfo(r.Context(), info)

			if metrics != nil && info.Operation != nil {
				metrics.RecordQueryDepth(ctx, int64(info.Depth), info.OperationType)
			}
			if maxDepth > 0 && info.Depth > maxDepth {
				if metrics != nil {
					metrics.RecordRejected(ctx, "max_depth")
				}
				writeGraphQLError(w, http.StatusBadRequest,
					fmt.Sprintf("query depth %d exceeds the limit of %d", info.Depth, maxDepth),
					"MAX_DEPTH_EXCEEDED")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeGraphQLError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{
			"message":    message,
			"extensions": map[string]any{"code": code},
		}},
	})
}
