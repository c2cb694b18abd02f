// Package users defines the GraphQL type and query for the signed-in user.
package users

import (
	"github.com/graphql-go/graphql"
)

// UserType mirrors serializers.User.
var UserType = graphql.NewObject(graphql.ObjectConfig{
	Name: "User",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.Int},
		"username":      &graphql.Field{Type: graphql.String},
		"email":         &graphql.Field{Type: graphql.String},
		"uaaEmail":      &graphql.Field{Type: graphql.String},
		"hasGithubAuth": &graphql.Field{Type: graphql.Boolean},
		"isActive":      &graphql.Field{Type: graphql.Boolean},
		"signedInAt":    &graphql.Field{Type: graphql.String},
		"createdAt":     &graphql.Field{Type: graphql.String},
	},
})
