package organizations

import (
	"context"
	"errors"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

// CurrentUser extracts the signed-in user placed in the resolver context.
type CurrentUser func(ctx context.Context) *model.User

// GetQueryFields returns the organization queries to be mounted in the root schema.
func GetQueryFields(orgs *services.OrganizationService, current CurrentUser) graphql.Fields {
	return graphql.Fields{
		"organizations": &graphql.Field{
			Type: graphql.NewList(OrganizationType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				user := current(p.Context)
				if user == nil {
					return nil, errors.New("authentication required")
				}
				list, err := orgs.FindAllForUser(p.Context, user)
				if err != nil {
					return nil, err
				}
				return serializers.Plain(serializers.SerializeOrganizations(list, time.Now()))
			},
		},
	}
}
