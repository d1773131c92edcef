package api

import (
	"context"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fulldump/box"

	"github.com/fulldump/recorddb/database"
)

// RecoverFromPanic turns a panic into a 500 and logs the stack.
func RecoverFromPanic(l *log.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			defer func() {
				if err := recover(); err != nil {
					l.Printf("PANIC: %v\n%s", err, debug.Stack())
					box.SetError(ctx, errors.Newf("panic: %v", err))
				}
			}()
			next(ctx)
		}
	}
}

func AccessLog(l *log.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			r := box.GetRequest(ctx)
			now := time.Now()
			defer func() {
				l.Println(now.UTC().Format(time.RFC3339Nano), formatRemoteAddr(r), r.Method, r.URL.String(), time.Since(now))
			}()

			next(ctx)
		}
	}
}

func formatRemoteAddr(r *http.Request) string {
	xorigin := strings.TrimSpace(strings.Split(
		r.Header.Get("X-Forwarded-For"), ",")[0])
	if xorigin != "" {
		return xorigin
	}

	i := strings.LastIndex(r.RemoteAddr, ":")
	if i < 0 {
		return r.RemoteAddr
	}
	return r.RemoteAddr[0:i]
}

type statuser interface {
	GetStatus() string
}

func InterceptorUnavailable(db statuser) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {

			status := db.GetStatus()
			if status != database.StatusOperating {
				box.SetError(ctx, errors.Wrap(database.ErrUnavailable, status))
				return
			}
			next(ctx)
		}
	}
}

// PrettyErrorInterceptor writes the status and body of any error set below
// it, so it goes before the interceptors that set errors.
func PrettyErrorInterceptor(next box.H) box.H {
	return func(ctx context.Context) {

		next(ctx)

		err := box.GetError(ctx)
		if err == nil {
			return
		}

		status, description := ErrorStatus(err)
		w := box.GetResponse(ctx)
		w.WriteHeader(status)
		PrettyError{
			Message:     err.Error(),
			Description: description,
		}.MarshalTo(w)
	}
}
