package auth

// contextKey is used for storing values in the GraphQL resolver context.
type contextKey string

// UserKey holds the signed-in *model.User in a resolver context.
const UserKey contextKey = "user"
