package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"gqlorm/internal/observability"
)

// respond writes body as the GraphQL response.
func respond(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestGraphQLMetricsMiddlewareRecordsRequests(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		operationName string
		response      string
		status        int
		wantType      string
		wantErrors    bool
	}{
		{
			name:          "mutation",
			query:         `mutation AddTag { createTag(input: {name: "infra"}) { id } }`,
			operationName: "AddTag",
			response:      `{"data":{"createTag":{"id":4}}}`,
			wantType:      "mutation",
		},
		{
			name:          "subscription",
			query:         `subscription OnIssue { issueClosed { id } }`,
			operationName: "OnIssue",
			response:      `{"data":null}`,
			wantType:      "subscription",
		},
		{
			name:       "graphql errors in a 200 response",
			query:      `{ issues { title } }`,
			response:   `{"errors":[{"message":"access denied"}]}`,
			wantType:   "query",
			wantErrors: true,
		},
		{
			name:       "http error status",
			query:      `{ projects { name } }`,
			response:   `{"errors":null}`,
			status:     http.StatusInternalServerError,
			wantType:   "query",
			wantErrors: true,
		},
		{
			name:     "unparseable document",
			query:    `{ projects {`,
			response: `{"data":null}`,
			wantType: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := respond(tt.response)
			if tt.status != 0 {
				next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.response))
				})
			}
			metrics, reader := newGraphQLMetrics(t)
			handler := GraphQLMetricsMiddleware(metrics)(next)

			handler.ServeHTTP(httptest.NewRecorder(), postGraphQL(t, tt.query, tt.operationName))

			rm := collectMetrics(t, reader)
			assert.Equal(t, int64(1), sumInt64(rm, "graphql.requests.total", tt.wantType, &tt.wantErrors))
			wantErrorCount := int64(0)
			if tt.wantErrors {
				wantErrorCount = 1
			}
			assert.Equal(t, wantErrorCount, sumInt64(rm, "graphql.errors.total", tt.wantType, nil))
		})
	}
}

func TestGraphQLMetricsMiddlewareReusesRequestAnalysis(t *testing.T) {
	metrics, reader := newGraphQLMetrics(t)

	var outer, inner *RequestInfo
	var body []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = RequestInfoFromContext(r.Context())
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"data":{}}`))
	})
	chain := GraphQLRequestMiddleware(0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outer = RequestInfoFromContext(r.Context())
		GraphQLMetricsMiddleware(metrics)(handler).ServeHTTP(w, r)
	}))

	chain.ServeHTTP(httptest.NewRecorder(), postGraphQL(t, `mutation Close { updateIssue(id: 1, set: {closed: true}) { id } }`, "Close"))

	require.NotNil(t, outer)
	assert.Same(t, outer, inner, "the analysis stored upstream is not repeated")
	assert.Equal(t, "mutation", inner.OperationType)
	assert.Contains(t, string(body), "updateIssue", "the body is still readable downstream")
	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumInt64(rm, "graphql.requests.total", "mutation", nil))
}

func TestGraphQLMetricsMiddlewareIgnoresGET(t *testing.T) {
	metrics, reader := newGraphQLMetrics(t)
	var info *RequestInfo
	handler := GraphQLMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info = RequestInfoFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql", nil))

	assert.Nil(t, info)
	assert.Zero(t, sumInt64(collectMetrics(t, reader), "graphql.requests.total", "query", nil))
}

func TestResponseHasGraphQLErrors(t *testing.T) {
	tests := map[string]bool{
		``:                               false,
		`not json`:                       false,
		`{"data":{}}`:                    false,
		`{"errors":null}`:                false,
		`{"errors":[]}`:                  false,
		`{"errors":{"message":"x"}}`:     false,
		`{"errors":[{"message":"boom"}]}`: true,
	}
	for body, want := range tests {
		assert.Equal(t, want, responseHasGraphQLErrors([]byte(body)), body)
	}
}

func newGraphQLMetrics(t *testing.T) (*observability.GraphQLMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetMeterProvider(previous)
	})

	metrics, err := observability.InitGraphQLMetrics()
	require.NoError(t, err)
	return metrics, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// sumInt64 adds up the data points of a counter for one operation type,
// optionally restricted to one has_errors value.
func sumInt64(rm metricdata.ResourceMetrics, name, operationType string, hasErrors *bool) int64 {
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				op, _ := point.Attributes.Value("operation_type")
				if op.AsString() != operationType {
					continue
				}
				if hasErrors != nil {
					if v, _ := point.Attributes.Value("has_errors"); v.AsBool() != *hasErrors {
						continue
					}
				}
				total += point.Value
			}
		}
	}
	return total
}
