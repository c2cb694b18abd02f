package database

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
)

// ArangoStore implements Store on ArangoDB. Records carry a numeric "id" attribute allocated
// from the counters collection; _key is left to the server.
type ArangoStore struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
	logger      *zap.SugaredLogger
}

var _ Store = (*ArangoStore)(nil)

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxFields  []string
	Unique     bool
}

var collectionNames = []string{
	"users", "sites", "site_users", "builds", "organizations", "roles", "organization_roles", "domains", "counters",
}

var idxList = []indexConfig{
	{Collection: "users", IdxName: "users_id", IdxFields: []string{"id"}, Unique: true},
	{Collection: "users", IdxName: "users_username", IdxFields: []string{"username"}, Unique: true},
	{Collection: "users", IdxName: "users_uaa_email", IdxFields: []string{"uaaEmail"}},
	{Collection: "sites", IdxName: "sites_id", IdxFields: []string{"id"}, Unique: true},
	{Collection: "sites", IdxName: "sites_repository", IdxFields: []string{"owner", "repository"}, Unique: true},
	{Collection: "sites", IdxName: "sites_organization", IdxFields: []string{"organizationId"}},
	{Collection: "site_users", IdxName: "site_users_pair", IdxFields: []string{"siteId", "userId"}, Unique: true},
	{Collection: "site_users", IdxName: "site_users_user", IdxFields: []string{"userId"}},
	{Collection: "builds", IdxName: "builds_id", IdxFields: []string{"id"}, Unique: true},
	{Collection: "builds", IdxName: "builds_site", IdxFields: []string{"siteId"}},
	{Collection: "organizations", IdxName: "organizations_id", IdxFields: []string{"id"}, Unique: true},
	{Collection: "organizations", IdxName: "organizations_name", IdxFields: []string{"name"}, Unique: true},
	{Collection: "roles", IdxName: "roles_id", IdxFields: []string{"id"}, Unique: true},
	{Collection: "roles", IdxName: "roles_name", IdxFields: []string{"name"}, Unique: true},
	{Collection: "organization_roles", IdxName: "organization_roles_pair", IdxFields: []string{"organizationId", "userId"}, Unique: true},
	{Collection: "organization_roles", IdxName: "organization_roles_user", IdxFields: []string{"userId"}},
	{Collection: "domains", IdxName: "domains_id", IdxFields: []string{"id"}, Unique: true},
	{Collection: "domains", IdxName: "domains_site", IdxFields: []string{"siteId"}},
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// NewArangoStore connects to ArangoDB, retrying with exponential backoff, then creates the
// database, collections and indexes that are missing.
func NewArangoStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*ArangoStore, error) {
	const initialInterval = 10 * time.Second
	const maxInterval = 2 * time.Minute

	log := logger.Sugar()
	var client arangodb.Client

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // Set to 0 for indefinite retries

	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.ArangoURL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.ArangoUser, cfg.ArangoPass))
		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}
		log.Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, bo, func(err error, _ time.Duration) {
		log.Warnf("Retrying connection to ArangoDB: %v", err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to arangodb: %w", err)
	}

	db, err := ensureDatabase(ctx, client, cfg.ArangoDatabase)
	if err != nil {
		return nil, err
	}

	store := &ArangoStore{
		Collections: make(map[string]arangodb.Collection),
		Database:    db,
		logger:      log,
	}

	for _, collectionName := range collectionNames {
		var col arangodb.Collection

		exists, _ := db.CollectionExists(ctx, collectionName)
		if exists {
			var options arangodb.GetCollectionOptions
			if col, err = db.GetCollection(ctx, collectionName, &options); err != nil {
				return nil, fmt.Errorf("failed to use collection %s: %w", collectionName, err)
			}
		} else {
			if col, err = db.CreateCollectionV2(ctx, collectionName, nil); err != nil {
				return nil, fmt.Errorf("failed to create collection %s: %w", collectionName, err)
			}
		}
		store.Collections[collectionName] = col
	}

	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func ensureDatabase(ctx context.Context, client arangodb.Client, name string) (arangodb.Database, error) {
	dblist, err := client.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	for _, dbinfo := range dblist {
		if dbinfo.Name() == name {
			var options arangodb.GetDatabaseOptions
			db, err := client.GetDatabase(ctx, name, &options)
			if err != nil {
				return nil, fmt.Errorf("failed to get database: %w", err)
			}
			return db, nil
		}
	}
	db, err := client.CreateDatabase(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return db, nil
}

func (s *ArangoStore) ensureIndexes(ctx context.Context) error {
	False := false
	for _, idx := range idxList {
		found := false
		if indexes, err := s.Collections[idx.Collection].Indexes(ctx); err == nil {
			for _, index := range indexes {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}
		if found {
			continue
		}

		unique := idx.Unique
		indexOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &unique,
			Sparse: &False,
			Name:   idx.IdxName,
		}
		if _, _, err := s.Collections[idx.Collection].EnsurePersistentIndex(ctx, idx.IdxFields, &indexOptions); err != nil {
			return fmt.Errorf("error creating index %s: %w", idx.IdxName, err)
		}
		s.logger.Infof("Created index: %s on %s.%s", idx.IdxName, idx.Collection, strings.Join(idx.IdxFields, ","))
	}
	return nil
}

// Close is a no-op; the HTTP connection pool is released with the process.
func (s *ArangoStore) Close() error { return nil }

//
// query helpers
//

func arangoErr(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsConflict(err) {
		return ErrConflict
	}
	return err
}

func (s *ArangoStore) exec(ctx context.Context, query string, bindVars map[string]interface{}) error {
	cursor, err := s.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return arangoErr(err)
	}
	return cursor.Close()
}

func queryAll[T any](ctx context.Context, s *ArangoStore, query string, bindVars map[string]interface{}) ([]T, error) {
	cursor, err := s.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, arangoErr(err)
	}
	defer cursor.Close()

	var results []T
	for cursor.HasMore() {
		var doc T
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, nil
}

func queryOne[T any](ctx context.Context, s *ArangoStore, query string, bindVars map[string]interface{}) (*T, error) {
	results, err := queryAll[T](ctx, s, query, bindVars)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return &results[0], nil
}

// nextID allocates the next numeric id for a collection.
func (s *ArangoStore) nextID(ctx context.Context, collection string) (int64, error) {
	query := `
		UPSERT { _key: @key }
		INSERT { _key: @key, value: 1 }
		UPDATE { value: OLD.value + 1 }
		IN counters
		RETURN NEW.value
	`
	value, err := queryOne[int64](ctx, s, query, map[string]interface{}{"key": collection})
	if err != nil {
		return 0, fmt.Errorf("allocate id for %s: %w", collection, err)
	}
	return *value, nil
}

func (s *ArangoStore) insert(ctx context.Context, collection string, doc interface{}) error {
	_, err := s.Collections[collection].CreateDocument(ctx, doc)
	return arangoErr(err)
}

// replaceByID overwrites the document with the given numeric id, keeping its _key.
func (s *ArangoStore) replaceByID(ctx context.Context, collection string, id int64, doc interface{}) error {
	query := `
		FOR d IN @@col
			FILTER d.id == @id
			REPLACE d WITH @doc IN @@col
			RETURN NEW.id
	`
	ids, err := queryAll[int64](ctx, s, query, map[string]interface{}{"@col": collection, "id": id, "doc": doc})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ArangoStore) removeWhere(ctx context.Context, collection, filter string, bindVars map[string]interface{}) (int, error) {
	bindVars["@col"] = collection
	query := `FOR d IN @@col FILTER ` + filter + ` REMOVE d IN @@col RETURN 1`
	removed, err := queryAll[int](ctx, s, query, bindVars)
	return len(removed), err
}

func now() time.Time {
	return time.Now().UTC()
}

//
// Users
//

// CreateUser inserts a user and assigns its ID. A taken username is reported by the unique
// index as ErrConflict.
func (s *ArangoStore) CreateUser(ctx context.Context, u *model.User) error {
	u.Username = strings.ToLower(u.Username)
	id, err := s.nextID(ctx, "users")
	if err != nil {
		return err
	}
	u.ID = id
	u.CreatedAt, u.UpdatedAt = now(), now()
	return s.insert(ctx, "users", u)
}

// GetUser returns the user with the given ID.
func (s *ArangoStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return queryOne[model.User](ctx, s, `FOR u IN users FILTER u.id == @id LIMIT 1 RETURN u`,
		map[string]interface{}{"id": id})
}

// FindUserByUsername looks a user up by GitHub username, case-insensitively.
func (s *ArangoStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return queryOne[model.User](ctx, s, `FOR u IN users FILTER LOWER(u.username) == LOWER(@username) LIMIT 1 RETURN u`,
		map[string]interface{}{"username": username})
}

// FindUserByUAAEmail looks a user up by identity provider email.
func (s *ArangoStore) FindUserByUAAEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return queryOne[model.User](ctx, s, `FOR u IN users FILTER LOWER(u.uaaEmail) == LOWER(@email) LIMIT 1 RETURN u`,
		map[string]interface{}{"email": email})
}

// UpdateUser saves every mutable field of u.
func (s *ArangoStore) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = now()
	return s.replaceByID(ctx, "users", u.ID, u)
}

// ListSiteUsers returns the users directly attached to a site.
func (s *ArangoStore) ListSiteUsers(ctx context.Context, siteID int64) ([]model.User, error) {
	query := `
		FOR su IN site_users
			FILTER su.siteId == @siteId
			FOR u IN users
				FILTER u.id == su.userId
				SORT u.id
				RETURN u
	`
	return queryAll[model.User](ctx, s, query, map[string]interface{}{"siteId": siteID})
}

//
// Sites
//

type siteUserDoc struct {
	SiteID int64 `json:"siteId"`
	UserID int64 `json:"userId"`
}

// CreateSite inserts a site and assigns its ID.
func (s *ArangoStore) CreateSite(ctx context.Context, site *model.Site) error {
	site.Owner, site.Repository = strings.ToLower(site.Owner), strings.ToLower(site.Repository)
	id, err := s.nextID(ctx, "sites")
	if err != nil {
		return err
	}
	site.ID = id
	site.CreatedAt, site.UpdatedAt = now(), now()
	return s.insert(ctx, "sites", site)
}

// GetSite returns the site with the given ID.
func (s *ArangoStore) GetSite(ctx context.Context, id int64) (*model.Site, error) {
	return queryOne[model.Site](ctx, s, `FOR s IN sites FILTER s.id == @id LIMIT 1 RETURN s`,
		map[string]interface{}{"id": id})
}

// FindSiteByRepository looks a site up by owner and repository, case-insensitively.
func (s *ArangoStore) FindSiteByRepository(ctx context.Context, owner, repository string) (*model.Site, error) {
	query := `
		FOR s IN sites
			FILTER LOWER(s.owner) == LOWER(@owner) AND LOWER(s.repository) == LOWER(@repository)
			LIMIT 1
			RETURN s
	`
	return queryOne[model.Site](ctx, s, query, map[string]interface{}{"owner": owner, "repository": repository})
}

// UpdateSite saves every mutable field of site.
func (s *ArangoStore) UpdateSite(ctx context.Context, site *model.Site) error {
	site.UpdatedAt = now()
	return s.replaceByID(ctx, "sites", site.ID, site)
}

// DeleteSite removes a site along with its memberships and domains.
func (s *ArangoStore) DeleteSite(ctx context.Context, id int64) error {
	n, err := s.removeWhere(ctx, "sites", "d.id == @id", map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := s.removeWhere(ctx, "site_users", "d.siteId == @id", map[string]interface{}{"id": id}); err != nil {
		return err
	}
	_, err = s.removeWhere(ctx, "domains", "d.siteId == @id", map[string]interface{}{"id": id})
	return err
}

// ListSites returns sites matching filter ordered by ID.
func (s *ArangoStore) ListSites(ctx context.Context, filter SiteFilter) ([]model.Site, error) {
	bindVars := map[string]interface{}{}
	query := `FOR s IN sites`
	if filter.Search != "" {
		query += ` FILTER CONTAINS(LOWER(s.owner), LOWER(@search)) OR CONTAINS(LOWER(s.repository), LOWER(@search))`
		bindVars["search"] = filter.Search
	}
	if filter.OrganizationID != nil {
		query += ` FILTER s.organizationId == @orgId`
		bindVars["orgId"] = *filter.OrganizationID
	}
	query += ` SORT s.id`
	if filter.Limit > 0 {
		query += ` LIMIT @limit`
		bindVars["limit"] = filter.Limit
	}
	query += ` RETURN s`
	return queryAll[model.Site](ctx, s, query, bindVars)
}

// ListSitesForUser returns the sites a user belongs to directly or through an organization.
func (s *ArangoStore) ListSitesForUser(ctx context.Context, userID int64) ([]model.Site, error) {
	query := `
		LET direct = (FOR su IN site_users FILTER su.userId == @userId RETURN su.siteId)
		LET orgs = (FOR r IN organization_roles FILTER r.userId == @userId RETURN r.organizationId)
		FOR s IN sites
			FILTER s.id IN direct OR (s.organizationId != null AND s.organizationId IN orgs)
			SORT s.id
			RETURN s
	`
	return queryAll[model.Site](ctx, s, query, map[string]interface{}{"userId": userID})
}

// AddSiteUser attaches a user to a site. Adding an existing member is a no-op.
func (s *ArangoStore) AddSiteUser(ctx context.Context, siteID, userID int64) error {
	query := `
		UPSERT { siteId: @siteId, userId: @userId }
		INSERT { siteId: @siteId, userId: @userId }
		UPDATE {}
		IN site_users
	`
	return s.exec(ctx, query, map[string]interface{}{"siteId": siteID, "userId": userID})
}

// RemoveSiteUser detaches a user from a site.
func (s *ArangoStore) RemoveSiteUser(ctx context.Context, siteID, userID int64) error {
	n, err := s.removeWhere(ctx, "site_users", "d.siteId == @siteId AND d.userId == @userId",
		map[string]interface{}{"siteId": siteID, "userId": userID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsSiteUser reports whether the user is attached to the site.
func (s *ArangoStore) IsSiteUser(ctx context.Context, siteID, userID int64) (bool, error) {
	_, err := queryOne[siteUserDoc](ctx, s, `FOR su IN site_users FILTER su.siteId == @siteId AND su.userId == @userId LIMIT 1 RETURN su`,
		map[string]interface{}{"siteId": siteID, "userId": userID})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

//
// Builds
//

// CreateBuild inserts a build and assigns its ID.
func (s *ArangoStore) CreateBuild(ctx context.Context, b *model.Build) error {
	id, err := s.nextID(ctx, "builds")
	if err != nil {
		return err
	}
	b.ID = id
	b.CreatedAt, b.UpdatedAt = now(), now()
	return s.insert(ctx, "builds", b)
}

// GetBuild returns the build with the given ID.
func (s *ArangoStore) GetBuild(ctx context.Context, id int64) (*model.Build, error) {
	return queryOne[model.Build](ctx, s, `FOR b IN builds FILTER b.id == @id LIMIT 1 RETURN b`,
		map[string]interface{}{"id": id})
}

// UpdateBuild saves the lifecycle fields of b. ReportedState is owned by MarkBuildReported.
func (s *ArangoStore) UpdateBuild(ctx context.Context, b *model.Build) error {
	b.UpdatedAt = now()
	query := `
		LET b = @b
		FOR d IN builds
			FILTER d.id == @id
			UPDATE d WITH {
				branch: b.branch, state: b.state, requestedCommitSha: b.requestedCommitSha,
				clonedCommitSha: b.clonedCommitSha, error: b.error, url: b.url,
				startedAt: b.startedAt, completedAt: b.completedAt, updatedAt: b.updatedAt
			} IN builds OPTIONS { keepNull: false }
			RETURN NEW.id
	`
	ids, err := queryAll[int64](ctx, s, query, map[string]interface{}{"id": b.ID, "b": b})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkBuildReported records the last state reported to GitHub.
func (s *ArangoStore) MarkBuildReported(ctx context.Context, id int64, state model.BuildState) error {
	ids, err := queryAll[int64](ctx, s, `FOR d IN builds FILTER d.id == @id UPDATE d WITH { reportedState: @state } IN builds RETURN NEW.id`,
		map[string]interface{}{"id": id, "state": string(state)})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBuilds returns builds matching filter, newest first.
func (s *ArangoStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]model.Build, error) {
	bindVars := map[string]interface{}{}
	query := `FOR b IN builds`
	if filter.SiteID != 0 {
		query += ` FILTER b.siteId == @siteId`
		bindVars["siteId"] = filter.SiteID
	}
	if filter.UserID != 0 {
		query += ` FILTER b.userId == @userId`
		bindVars["userId"] = filter.UserID
	}
	if filter.Branch != "" {
		query += ` FILTER b.branch == @branch`
		bindVars["branch"] = filter.Branch
	}
	if len(filter.States) > 0 {
		query += ` FILTER b.state IN @states`
		bindVars["states"] = filter.States
	}
	query += ` SORT b.id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT @limit`
		bindVars["limit"] = filter.Limit
	}
	query += ` RETURN b`
	return queryAll[model.Build](ctx, s, query, bindVars)
}

//
// Organizations
//

// CreateOrganization inserts an organization and assigns its ID.
func (s *ArangoStore) CreateOrganization(ctx context.Context, o *model.Organization) error {
	id, err := s.nextID(ctx, "organizations")
	if err != nil {
		return err
	}
	o.ID = id
	o.CreatedAt, o.UpdatedAt = now(), now()
	return s.insert(ctx, "organizations", o)
}

// GetOrganization returns the organization with the given ID.
func (s *ArangoStore) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	return queryOne[model.Organization](ctx, s, `FOR o IN organizations FILTER o.id == @id LIMIT 1 RETURN o`,
		map[string]interface{}{"id": id})
}

// UpdateOrganization saves every mutable field of o.
func (s *ArangoStore) UpdateOrganization(ctx context.Context, o *model.Organization) error {
	o.UpdatedAt = now()
	return s.replaceByID(ctx, "organizations", o.ID, o)
}

// ListOrganizations returns every organization ordered by name.
func (s *ArangoStore) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	return queryAll[model.Organization](ctx, s, `FOR o IN organizations SORT o.name RETURN o`, nil)
}

// ListOrganizationsForUser returns the organizations the user is a member of.
func (s *ArangoStore) ListOrganizationsForUser(ctx context.Context, userID int64) ([]model.Organization, error) {
	query := `
		FOR r IN organization_roles
			FILTER r.userId == @userId
			FOR o IN organizations
				FILTER o.id == r.organizationId
				SORT o.name
				RETURN o
	`
	return queryAll[model.Organization](ctx, s, query, map[string]interface{}{"userId": userID})
}

// ListSandboxOrganizations returns active sandbox organizations.
func (s *ArangoStore) ListSandboxOrganizations(ctx context.Context) ([]model.Organization, error) {
	return queryAll[model.Organization](ctx, s,
		`FOR o IN organizations FILTER o.isSandbox == true AND o.isActive == true SORT o.id RETURN o`, nil)
}

// ListOrganizationMembers returns the organization roles with Role and User populated.
func (s *ArangoStore) ListOrganizationMembers(ctx context.Context, orgID int64) ([]model.OrganizationRole, error) {
	query := `
		FOR r IN organization_roles
			FILTER r.organizationId == @orgId
			LET role = FIRST(FOR x IN roles FILTER x.id == r.roleId RETURN x)
			LET user = FIRST(FOR u IN users FILTER u.id == r.userId RETURN u)
			SORT r.userId
			RETURN MERGE(r, { role: role, user: user })
	`
	return queryAll[model.OrganizationRole](ctx, s, query, map[string]interface{}{"orgId": orgID})
}

// GetOrganizationRole returns a user's membership in an organization, with Role populated.
func (s *ArangoStore) GetOrganizationRole(ctx context.Context, orgID, userID int64) (*model.OrganizationRole, error) {
	query := `
		FOR r IN organization_roles
			FILTER r.organizationId == @orgId AND r.userId == @userId
			LET role = FIRST(FOR x IN roles FILTER x.id == r.roleId RETURN x)
			LIMIT 1
			RETURN MERGE(r, { role: role })
	`
	return queryOne[model.OrganizationRole](ctx, s, query, map[string]interface{}{"orgId": orgID, "userId": userID})
}

// UpsertOrganizationRole creates or replaces a user's role in an organization.
func (s *ArangoStore) UpsertOrganizationRole(ctx context.Context, m *model.OrganizationRole) error {
	ts := now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = ts
	}
	m.UpdatedAt = ts
	query := `
		UPSERT { organizationId: @orgId, userId: @userId }
		INSERT { organizationId: @orgId, userId: @userId, roleId: @roleId, createdAt: @createdAt, updatedAt: @updatedAt }
		UPDATE { roleId: @roleId, updatedAt: @updatedAt }
		IN organization_roles
	`
	return s.exec(ctx, query, map[string]interface{}{
		"orgId":     m.OrganizationID,
		"userId":    m.UserID,
		"roleId":    m.RoleID,
		"createdAt": m.CreatedAt,
		"updatedAt": m.UpdatedAt,
	})
}

//
// Roles
//

// CreateRole inserts a role and assigns its ID.
func (s *ArangoStore) CreateRole(ctx context.Context, r *model.Role) error {
	id, err := s.nextID(ctx, "roles")
	if err != nil {
		return err
	}
	r.ID = id
	return s.insert(ctx, "roles", r)
}

// GetRole returns the role with the given ID.
func (s *ArangoStore) GetRole(ctx context.Context, id int64) (*model.Role, error) {
	return queryOne[model.Role](ctx, s, `FOR r IN roles FILTER r.id == @id LIMIT 1 RETURN r`,
		map[string]interface{}{"id": id})
}

// FindRoleByName returns the role with the given name.
func (s *ArangoStore) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	return queryOne[model.Role](ctx, s, `FOR r IN roles FILTER r.name == @name LIMIT 1 RETURN r`,
		map[string]interface{}{"name": name})
}

//
// Domains
//

// CreateDomain inserts a domain and assigns its ID.
func (s *ArangoStore) CreateDomain(ctx context.Context, d *model.Domain) error {
	id, err := s.nextID(ctx, "domains")
	if err != nil {
		return err
	}
	d.ID = id
	d.CreatedAt, d.UpdatedAt = now(), now()
	return s.insert(ctx, "domains", d)
}

// GetDomain returns the domain with the given ID.
func (s *ArangoStore) GetDomain(ctx context.Context, id int64) (*model.Domain, error) {
	return queryOne[model.Domain](ctx, s, `FOR d IN domains FILTER d.id == @id LIMIT 1 RETURN d`,
		map[string]interface{}{"id": id})
}

// DeleteDomain removes a domain.
func (s *ArangoStore) DeleteDomain(ctx context.Context, id int64) error {
	n, err := s.removeWhere(ctx, "domains", "d.id == @id", map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDomainsForSite returns a site's domains ordered by ID.
func (s *ArangoStore) ListDomainsForSite(ctx context.Context, siteID int64) ([]model.Domain, error) {
	return queryAll[model.Domain](ctx, s, `FOR d IN domains FILTER d.siteId == @siteId SORT d.id RETURN d`,
		map[string]interface{}{"siteId": siteID})
}
