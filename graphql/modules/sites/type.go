// Package sites defines the GraphQL types and queries for sites and their builds.
package sites

import (
	"github.com/graphql-go/graphql"
)

// SiteType mirrors serializers.Site.
var SiteType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Site",
	Fields: graphql.Fields{
		"id":                &graphql.Field{Type: graphql.Int},
		"owner":             &graphql.Field{Type: graphql.String},
		"repository":        &graphql.Field{Type: graphql.String},
		"engine":            &graphql.Field{Type: graphql.String},
		"engineVersion":     &graphql.Field{Type: graphql.String},
		"defaultBranch":     &graphql.Field{Type: graphql.String},
		"demoBranch":        &graphql.Field{Type: graphql.String},
		"domain":            &graphql.Field{Type: graphql.String},
		"demoDomain":        &graphql.Field{Type: graphql.String},
		"publicPreview":     &graphql.Field{Type: graphql.Boolean},
		"organizationId":    &graphql.Field{Type: graphql.Int},
		"isActive":          &graphql.Field{Type: graphql.Boolean},
		"basicAuthUsername": &graphql.Field{Type: graphql.String},
		"siteRoot":          &graphql.Field{Type: graphql.String},
		"viewLink":          &graphql.Field{Type: graphql.String},
		"demoViewLink":      &graphql.Field{Type: graphql.String},
		"createdAt":         &graphql.Field{Type: graphql.String},
		"updatedAt":         &graphql.Field{Type: graphql.String},
	},
})

// BuildType mirrors a serialized build. The build token is never exposed.
var BuildType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Build",
	Fields: graphql.Fields{
		"id":                 &graphql.Field{Type: graphql.Int},
		"siteId":             &graphql.Field{Type: graphql.Int},
		"userId":             &graphql.Field{Type: graphql.Int},
		"username":           &graphql.Field{Type: graphql.String},
		"branch":             &graphql.Field{Type: graphql.String},
		"state":              &graphql.Field{Type: graphql.String},
		"requestedCommitSha": &graphql.Field{Type: graphql.String},
		"clonedCommitSha":    &graphql.Field{Type: graphql.String},
		"error":              &graphql.Field{Type: graphql.String},
		"url":                &graphql.Field{Type: graphql.String},
		"startedAt":          &graphql.Field{Type: graphql.String},
		"completedAt":        &graphql.Field{Type: graphql.String},
		"createdAt":          &graphql.Field{Type: graphql.String},
	},
})
