// Package graphql assembles the read-only GraphQL schema from the query fields of each module.
package graphql

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/pages-platform/pages-core/graphql/modules/organizations"
	"github.com/pages-platform/pages-core/graphql/modules/sites"
	"github.com/pages-platform/pages-core/graphql/modules/users"
	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/auth"
)

// Resolvers are the services the schema reads from.
type Resolvers struct {
	Sites         *services.SiteService
	Builds        *services.BuildService
	Organizations *services.OrganizationService
	SiteRoot      string
}

func currentUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(auth.UserKey).(*model.User)
	return user
}

// CreateSchema builds the root query.
func CreateSchema(r Resolvers) (graphql.Schema, error) {
	fields := graphql.Fields{}
	for _, group := range []graphql.Fields{
		users.GetQueryFields(currentUser),
		sites.GetQueryFields(r.Sites, r.Builds, r.SiteRoot, currentUser),
		organizations.GetQueryFields(r.Organizations, currentUser),
	} {
		for name, field := range group {
			fields[name] = field
		}
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: fields,
		}),
	})
}
