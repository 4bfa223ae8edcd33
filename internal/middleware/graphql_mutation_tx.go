package middleware

import (
	"log/slog"
	"net/http"

	"github.com/graphql-go/graphql/language/ast"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/logging"
	"gqlorm/internal/resolver"
)

// MutationTransactionMiddleware runs every root field of a mutation operation
// in one transaction. It commits once the handler returns, or rolls back when
// a mutation resolver failed or the handler panicked. Queries pass through.
func MutationTransactionMiddleware(beginner dbexec.TxBeginner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := RequestInfoFromContext(r.Context())
			if beginner == nil || info == nil || info.OperationType != ast.OperationTypeMutation {
				next.ServeHTTP(w, r)
				return
			}

			tx, err := beginner.BeginTx(r.Context())
			if err != nil {
				logging.FromContext(r.Context()).Error("failed to start mutation transaction", slog.String("error", err.Error()))
				http.Error(w, "failed to start transaction", http.StatusInternalServerError)
				return
			}
			mc := resolver.NewMutationContext(tx)
			ctx := resolver.WithMutationContext(r.Context(), mc)

			defer func() {
				if rec := recover(); rec != nil {
					mc.MarkError()
					_ = mc.Finalize()
					panic(rec)
				}
				if err := mc.Finalize(); err != nil {
					logging.FromContext(ctx).Error("failed to finish mutation transaction",
						slog.Bool("rolled_back", mc.Failed()),
						slog.String("error", err.Error()),
					)
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
