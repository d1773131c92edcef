package api

import (
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fulldump/recorddb/cache"
	"github.com/fulldump/recorddb/database"
	"github.com/fulldump/recorddb/service"
)

func newApi(db *database.Database, gatherer prometheus.Gatherer) *apitest.Apitest {
	b := Build(service.NewService(db), "test", gatherer)
	b.WithInterceptors(
		PrettyErrorInterceptor,
		InterceptorUnavailable(db),
		RecoverFromPanic(log.Default()),
	)
	return apitest.NewWithHandler(b)
}

func TestAcceptance(t *testing.T) {

	for _, backend := range []string{"memory", "journal", "bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			biff.Alternative("Setup "+backend, func(a *biff.A) {

				db := database.NewDatabase(&database.Config{
					Dir:     t.TempDir(),
					Backend: backend,
				})

				biff.AssertNil(db.Load())
				biff.AssertEqual(db.GetStatus(), database.StatusOperating)
				defer db.Stop()

				api := newApi(db, nil)

				service.Acceptance(a, func(method, path string) *apitest.Request {
					return api.Request(method, "/v1"+path)
				})
			})
		})
	}
}

func TestAcceptanceWithCache(t *testing.T) {

	biff.Alternative("Setup cached", func(a *biff.A) {

		reg := prometheus.NewRegistry()
		options := cache.DefaultOptions()
		options.Capacity = 2
		options.EvictBatch = 1
		db := database.NewDatabase(&database.Config{
			Dir:        t.TempDir(),
			Backend:    "journal",
			Cache:      options,
			Registerer: reg,
		})

		biff.AssertNil(db.Load())
		defer db.Stop()

		api := newApi(db, reg)

		service.Acceptance(a, func(method, path string) *apitest.Request {
			return api.Request(method, "/v1"+path)
		})

		a.Alternative("Metrics", func(a *biff.A) {
			resp := api.Request("GET", "/metrics").Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertTrue(strings.Contains(resp.BodyString(), "recorddb_cache_misses_total"))
		})
	})
}

func TestUnavailable(t *testing.T) {

	db := database.NewDatabase(&database.Config{
		Backend: "memory",
	})
	api := newApi(db, nil)

	resp := api.Request("GET", "/v1/collections/people/records/alice").Do()
	biff.AssertEqual(resp.StatusCode, http.StatusServiceUnavailable)

	biff.AssertNil(db.Load())
	resp = api.Request("GET", "/v1/collections/people/records/alice").Do()
	biff.AssertEqual(resp.StatusCode, http.StatusNotFound)

	biff.AssertNil(db.Stop())
	resp = api.Request("GET", "/v1/collections/people/records/alice").Do()
	biff.AssertEqual(resp.StatusCode, http.StatusServiceUnavailable)
}

func TestRelease(t *testing.T) {

	db := database.NewDatabase(&database.Config{Backend: "memory"})
	biff.AssertNil(db.Load())
	defer db.Stop()

	resp := newApi(db, nil).Request("GET", "/release").Do()
	biff.AssertEqual(resp.StatusCode, http.StatusOK)
	biff.AssertEqual(resp.BodyJson(), "test")
}
