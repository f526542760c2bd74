package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	logctx "github.com/pribylovaa/go-comment-store/pkg/log"
)

// Timeout задаёт общий дедлайн обработки действия. Существующий deadline не трогаем.
// Если обработчик вернулся уже после дедлайна, пишем предупреждение: обычно это
// медленное хранилище или глубокое дерево при рекурсивном чтении.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logctx.From(ctx).LogAttrs(ctx, slog.LevelWarn, "request_deadline_exceeded",
					slog.String("path", r.URL.Path),
					slog.String("action", r.URL.Query().Get("action")),
					slog.Duration("timeout", d),
				)
			}
		})
	}
}
