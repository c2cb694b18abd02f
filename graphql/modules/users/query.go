package users

import (
	"context"

	"github.com/graphql-go/graphql"

	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

// CurrentUser extracts the signed-in user placed in the resolver context.
type CurrentUser func(ctx context.Context) *model.User

// GetQueryFields returns the user queries to be mounted in the root schema.
func GetQueryFields(current CurrentUser) graphql.Fields {
	return graphql.Fields{
		"me": &graphql.Field{
			Type: UserType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				user := current(p.Context)
				if user == nil {
					return nil, nil
				}
				return serializers.Plain(serializers.SerializeUser(user))
			},
		},
	}
}
