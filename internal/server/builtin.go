package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/morezero/service-engine/pkg/catalog"
	"github.com/morezero/service-engine/pkg/engine"
)

// EchoArgument is the input of the builtin system.echo service.
type EchoArgument struct {
	Message string `json:"message"`
}

// EchoResult is the output of the builtin system.echo service.
type EchoResult struct {
	Message    string `json:"message"`
	ReceivedAt string `json:"receivedAt"`
}

// CatalogQuery is the input of the builtin system.catalog service.
type CatalogQuery struct {
	Prefix string `json:"prefix,omitempty"`
}

// registerBuiltins installs the services every engine instance ships with:
// system.echo for connectivity checks and system.catalog for listing the
// dispatchable surface.
func registerBuiltins(cat *catalog.Catalog) error {
	echo := engine.Bind[EchoArgument, EchoResult]("system.echo",
		func(_ context.Context, _ engine.Locator) (engine.Service[EchoArgument, EchoResult], error) {
			return engine.ServiceFunc[EchoArgument, EchoResult](
				func(_ context.Context, arg EchoArgument) (EchoResult, error) {
					return EchoResult{
						Message:    arg.Message,
						ReceivedAt: time.Now().UTC().Format(time.RFC3339),
					}, nil
				}), nil
		})
	if err := cat.Register("system.echo", "1.0.0", echo); err != nil {
		return err
	}

	list := engine.Bind[CatalogQuery, []catalog.ServiceInfo]("system.catalog",
		func(ctx context.Context, loc engine.Locator) (engine.Service[CatalogQuery, []catalog.ServiceInfo], error) {
			v, err := loc.Resolve(ctx, "catalog")
			if err != nil {
				return nil, err
			}
			c, ok := v.(*catalog.Catalog)
			if !ok {
				return nil, fmt.Errorf("component catalog has unexpected type %T", v)
			}
			return engine.ServiceFunc[CatalogQuery, []catalog.ServiceInfo](
				func(_ context.Context, q CatalogQuery) ([]catalog.ServiceInfo, error) {
					all := c.Services()
					if q.Prefix == "" {
						return all, nil
					}
					filtered := make([]catalog.ServiceInfo, 0, len(all))
					for _, info := range all {
						if strings.HasPrefix(info.Service, q.Prefix) {
							filtered = append(filtered, info)
						}
					}
					return filtered, nil
				}), nil
		})
	return cat.Register("system.catalog", "1.0.0", list)
}
