package api

import (
	"net/http"

	"github.com/fulldump/box"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulldump/recorddb/api/apirecordsv1"
	"github.com/fulldump/recorddb/service"
)

// Build mounts the v1 API. /metrics is served only when gatherer is given.
func Build(s service.Servicer, version string, gatherer prometheus.Gatherer) *box.B {

	b := box.NewBox()

	v1 := b.Resource("/v1")
	v1.WithInterceptors(
		box.SetResponseHeader("Content-Type", "application/json"),
	)

	apirecordsv1.Build(v1, s)

	b.Resource("/v1/*").
		WithActions(box.AnyMethod(func(w http.ResponseWriter) interface{} {
			w.WriteHeader(http.StatusNotImplemented)
			return PrettyError{
				Message:     "not implemented",
				Description: "this endpoint does not exist",
			}
		}))

	b.Resource("/release").
		WithActions(box.Get(func() string {
			return version
		}))

	if gatherer != nil {
		metrics := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		b.Resource("/metrics").
			WithActions(box.Get(metrics.ServeHTTP).WithName("metrics"))
	}

	return b
}
