// Package store persists routes so interrupted executions can be resumed.
package store

import (
	"context"
	"errors"
	"sort"

	"xroute/pkg/types"
)

// ErrNotFound is returned when no route is stored under an id
var ErrNotFound = errors.New("route not found")

// Store saves and loads route snapshots
type Store interface {
	Save(ctx context.Context, route *types.Route) error
	Load(ctx context.Context, id string) (*types.Route, error)
	List(ctx context.Context) ([]*types.Route, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Pending returns stored routes that have started and are neither done nor failed
func Pending(ctx context.Context, s Store) ([]*types.Route, error) {
	routes, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]*types.Route, 0, len(routes))
	for _, r := range routes {
		if r.Started() && r.Status() == types.RouteInProgress {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func sortRoutes(routes []*types.Route) {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].UpdatedAt.Equal(routes[j].UpdatedAt) {
			return routes[i].ID < routes[j].ID
		}
		return routes[i].UpdatedAt.After(routes[j].UpdatedAt)
	})
}
