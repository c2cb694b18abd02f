// Package organizations defines the GraphQL type and query for organizations.
package organizations

import (
	"github.com/graphql-go/graphql"
)

// OrganizationType mirrors serializers.Organization.
var OrganizationType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Organization",
	Fields: graphql.Fields{
		"id":                       &graphql.Field{Type: graphql.Int},
		"name":                     &graphql.Field{Type: graphql.String},
		"agency":                   &graphql.Field{Type: graphql.String},
		"isSandbox":                &graphql.Field{Type: graphql.Boolean},
		"isActive":                 &graphql.Field{Type: graphql.Boolean},
		"sandboxNextCleaningAt":    &graphql.Field{Type: graphql.String},
		"daysUntilSandboxCleaning": &graphql.Field{Type: graphql.Int},
	},
})
