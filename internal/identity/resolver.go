// Package identity turns a provider callback into a verified Identity.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/BradenHooton/tessera/internal/models"
)

// Resolver is implemented once per login method.
type Resolver interface {
	// Method is the name stored in LoginState.Method and on the user record.
	Method() string
	// AuthURL is where the browser goes to start the provider round trip.
	AuthURL(stateToken string) string
	// Verify checks the callback query and returns the identity it proves.
	Verify(ctx context.Context, callback url.Values) (*models.Identity, error)
}

// Registry maps method names to resolvers. It is read-only after construction.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry indexes resolvers by Method. A later resolver with the same
// method replaces an earlier one.
func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{resolvers: make(map[string]Resolver, len(resolvers))}
	for _, res := range resolvers {
		r.resolvers[res.Method()] = res
	}
	return r
}

// Get returns the resolver for method or ErrUnknownMethod.
func (r *Registry) Get(method string) (Resolver, error) {
	res, ok := r.resolvers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownMethod, method)
	}
	return res, nil
}

// Methods lists the configured method names in sorted order.
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.resolvers))
	for m := range r.resolvers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
