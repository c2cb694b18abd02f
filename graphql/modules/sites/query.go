package sites

import (
	"context"
	"errors"

	"github.com/graphql-go/graphql"

	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

const maxBuilds = 100

// ErrUnauthenticated is returned by resolvers that need a signed-in user.
var ErrUnauthenticated = errors.New("authentication required")

// CurrentUser extracts the signed-in user placed in the resolver context.
type CurrentUser func(ctx context.Context) *model.User

// GetQueryFields returns the site and build queries to be mounted in the root schema.
func GetQueryFields(siteService *services.SiteService, buildService *services.BuildService, siteRoot string, current CurrentUser) graphql.Fields {
	return graphql.Fields{
		"sites": &graphql.Field{
			Type: graphql.NewList(SiteType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				user := current(p.Context)
				if user == nil {
					return nil, ErrUnauthenticated
				}
				sites, err := siteService.ListSites(p.Context, user)
				if err != nil {
					return nil, err
				}
				return serializers.Plain(serializers.SerializeSites(sites, siteRoot))
			},
		},
		"site": &graphql.Field{
			Type: SiteType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				user := current(p.Context)
				if user == nil {
					return nil, ErrUnauthenticated
				}
				site, err := siteService.CanAccessSite(p.Context, user, int64(p.Args["id"].(int)))
				if err != nil {
					return nil, err
				}
				return serializers.Plain(serializers.SerializeSite(site, siteRoot))
			},
		},
		"builds": &graphql.Field{
			Type: graphql.NewList(BuildType),
			Args: graphql.FieldConfigArgument{
				"siteId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				user := current(p.Context)
				if user == nil {
					return nil, ErrUnauthenticated
				}
				siteID := int64(p.Args["siteId"].(int))
				if _, err := siteService.CanAccessSite(p.Context, user, siteID); err != nil {
					return nil, err
				}
				limit := p.Args["limit"].(int)
				if limit <= 0 || limit > maxBuilds {
					limit = maxBuilds
				}
				builds, err := buildService.ListSiteBuilds(p.Context, siteID, limit)
				if err != nil {
					return nil, err
				}
				return serializers.Plain(serializers.SerializeBuilds(builds))
			},
		},
	}
}
