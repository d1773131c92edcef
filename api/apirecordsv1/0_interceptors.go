package apirecordsv1

import (
	"context"

	"github.com/fulldump/box"

	"github.com/fulldump/recorddb/service"
	"github.com/fulldump/recorddb/store"
)

type servicerKey struct{}

func SetServicer(ctx context.Context, s service.Servicer) context.Context {
	return context.WithValue(ctx, servicerKey{}, s)
}

func GetServicer(ctx context.Context) service.Servicer {
	s, _ := ctx.Value(servicerKey{}).(service.Servicer)
	return s
}

func injectServicer(s service.Servicer) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			next(SetServicer(ctx, s))
		}
	}
}

// getStore returns the store and the collection named in the url.
func getStore(ctx context.Context) (store.Store, string, error) {
	s, err := GetServicer(ctx).GetStore()
	if err != nil {
		return nil, "", err
	}
	return s, box.GetUrlParameter(ctx, "collection"), nil
}
