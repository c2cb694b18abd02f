package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pages-platform/pages-core/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. It backs local development and
// tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dsn and applies the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE COLLATE NOCASE,
	email TEXT NOT NULL DEFAULT '',
	uaa_email TEXT NOT NULL DEFAULT '',
	github_access_token TEXT NOT NULL DEFAULT '',
	github_user_id TEXT NOT NULL DEFAULT '',
	signed_in_at DATETIME,
	build_notification_settings TEXT NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS users_uaa_email ON users(uaa_email);

CREATE TABLE IF NOT EXISTS organizations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	agency TEXT NOT NULL DEFAULT '',
	is_sandbox BOOLEAN NOT NULL DEFAULT FALSE,
	sandbox_next_cleaning_at DATETIME,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sites (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL COLLATE NOCASE,
	repository TEXT NOT NULL COLLATE NOCASE,
	engine TEXT NOT NULL,
	engine_version TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL,
	demo_branch TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	demo_domain TEXT NOT NULL DEFAULT '',
	config TEXT NOT NULL DEFAULT '',
	public_preview BOOLEAN NOT NULL DEFAULT FALSE,
	organization_id INTEGER REFERENCES organizations(id) ON DELETE SET NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	basic_auth TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(owner, repository)
);

CREATE TABLE IF NOT EXISTS site_users (
	site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (site_id, user_id)
);

CREATE TABLE IF NOT EXISTS builds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id INTEGER NOT NULL,
	user_id INTEGER,
	username TEXT NOT NULL DEFAULT '',
	branch TEXT NOT NULL,
	state TEXT NOT NULL,
	requested_commit_sha TEXT NOT NULL DEFAULT '',
	cloned_commit_sha TEXT NOT NULL DEFAULT '',
	token TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	reported_state TEXT NOT NULL DEFAULT '',
	started_at DATETIME,
	completed_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS builds_site_id ON builds(site_id);

CREATE TABLE IF NOT EXISTS roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS organization_roles (
	organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role_id INTEGER NOT NULL REFERENCES roles(id),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (organization_id, user_id)
);

CREATE TABLE IF NOT EXISTS domains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	names TEXT NOT NULL,
	context TEXT NOT NULL,
	service_name TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

//
// Users
//

const userColumns = `id, username, email, uaa_email, github_access_token, github_user_id, signed_in_at,
	build_notification_settings, is_active, created_at, updated_at`

func scanUser(sc scanner) (*model.User, error) {
	var (
		u        model.User
		signedIn sql.NullTime
		settings string
	)
	if err := sc.Scan(&u.ID, &u.Username, &u.Email, &u.UAAEmail, &u.GithubAccessToken, &u.GithubUserID,
		&signedIn, &settings, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	u.SignedInAt = timePtr(signedIn)
	u.BuildNotificationSettings = map[int64]string{}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &u.BuildNotificationSettings); err != nil {
			return nil, fmt.Errorf("decode notification settings for user@id=%d: %w", u.ID, err)
		}
	}
	return &u, nil
}

func encodeSettings(settings map[int64]string) (string, error) {
	if settings == nil {
		return "{}", nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateUser inserts a user and assigns its ID.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	stamp(&u.CreatedAt, &u.UpdatedAt)
	settings, err := encodeSettings(u.BuildNotificationSettings)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (username, email, uaa_email, github_access_token,
		github_user_id, signed_in_at, build_notification_settings, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.UAAEmail, u.GithubAccessToken, u.GithubUserID, nullTime(u.SignedInAt),
		settings, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if isUniqueErr(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetUser returns the user with the given ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// FindUserByUsername looks a user up by GitHub username, case-insensitively.
func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower(?)`, username))
}

// FindUserByUAAEmail looks a user up by identity provider email.
func (s *SQLiteStore) FindUserByUAAEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(uaa_email) = lower(?) LIMIT 1`, email))
}

// UpdateUser saves every mutable field of u.
func (s *SQLiteStore) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()
	settings, err := encodeSettings(u.BuildNotificationSettings)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET username = ?, email = ?, uaa_email = ?,
		github_access_token = ?, github_user_id = ?, signed_in_at = ?, build_notification_settings = ?,
		is_active = ?, updated_at = ? WHERE id = ?`,
		u.Username, u.Email, u.UAAEmail, u.GithubAccessToken, u.GithubUserID, nullTime(u.SignedInAt),
		settings, u.IsActive, u.UpdatedAt, u.ID)
	return affected(res, err)
}

// ListSiteUsers returns the users directly attached to a site.
func (s *SQLiteStore) ListSiteUsers(ctx context.Context, siteID int64) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prefixed("u", userColumns)+` FROM users u
		JOIN site_users su ON su.user_id = u.id WHERE su.site_id = ? ORDER BY u.id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func affected(res sql.Result, err error) error {
	if isUniqueErr(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

//
// Sites
//

const siteColumns = `id, owner, repository, engine, engine_version, default_branch, demo_branch, domain,
	demo_domain, config, public_preview, organization_id, is_active, basic_auth, created_at, updated_at`

func scanSite(sc scanner) (*model.Site, error) {
	var (
		site      model.Site
		orgID     sql.NullInt64
		basicAuth string
	)
	if err := sc.Scan(&site.ID, &site.Owner, &site.Repository, &site.Engine, &site.EngineVersion,
		&site.DefaultBranch, &site.DemoBranch, &site.Domain, &site.DemoDomain, &site.Config,
		&site.PublicPreview, &orgID, &site.IsActive, &basicAuth, &site.CreatedAt, &site.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	site.OrganizationID = intPtr(orgID)
	if basicAuth != "" {
		site.BasicAuth = &model.BasicAuth{}
		if err := json.Unmarshal([]byte(basicAuth), site.BasicAuth); err != nil {
			return nil, fmt.Errorf("decode basic auth for site@id=%d: %w", site.ID, err)
		}
	}
	return &site, nil
}

func encodeBasicAuth(b *model.BasicAuth) (string, error) {
	if b == nil {
		return "", nil
	}
	data, err := json.Marshal(b)
	return string(data), err
}

func scanSites(rows *sql.Rows, err error) ([]model.Site, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

// CreateSite inserts a site and assigns its ID.
func (s *SQLiteStore) CreateSite(ctx context.Context, site *model.Site) error {
	stamp(&site.CreatedAt, &site.UpdatedAt)
	basicAuth, err := encodeBasicAuth(site.BasicAuth)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO sites (owner, repository, engine, engine_version,
		default_branch, demo_branch, domain, demo_domain, config, public_preview, organization_id, is_active,
		basic_auth, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		site.Owner, site.Repository, site.Engine, site.EngineVersion, site.DefaultBranch, site.DemoBranch,
		site.Domain, site.DemoDomain, site.Config, site.PublicPreview, nullInt(site.OrganizationID),
		site.IsActive, basicAuth, site.CreatedAt, site.UpdatedAt)
	if isUniqueErr(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	site.ID, err = res.LastInsertId()
	return err
}

// GetSite returns the site with the given ID.
func (s *SQLiteStore) GetSite(ctx context.Context, id int64) (*model.Site, error) {
	return scanSite(s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id))
}

// FindSiteByRepository looks a site up by owner and repository, case-insensitively.
func (s *SQLiteStore) FindSiteByRepository(ctx context.Context, owner, repository string) (*model.Site, error) {
	return scanSite(s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites
		WHERE lower(owner) = lower(?) AND lower(repository) = lower(?)`, owner, repository))
}

// UpdateSite saves every mutable field of site.
func (s *SQLiteStore) UpdateSite(ctx context.Context, site *model.Site) error {
	site.UpdatedAt = time.Now().UTC()
	basicAuth, err := encodeBasicAuth(site.BasicAuth)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sites SET owner = ?, repository = ?, engine = ?,
		engine_version = ?, default_branch = ?, demo_branch = ?, domain = ?, demo_domain = ?, config = ?,
		public_preview = ?, organization_id = ?, is_active = ?, basic_auth = ?, updated_at = ? WHERE id = ?`,
		site.Owner, site.Repository, site.Engine, site.EngineVersion, site.DefaultBranch, site.DemoBranch,
		site.Domain, site.DemoDomain, site.Config, site.PublicPreview, nullInt(site.OrganizationID),
		site.IsActive, basicAuth, site.UpdatedAt, site.ID)
	return affected(res, err)
}

// DeleteSite removes a site along with its memberships and domains.
func (s *SQLiteStore) DeleteSite(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	return affected(res, err)
}

// ListSites returns sites matching filter ordered by ID.
func (s *SQLiteStore) ListSites(ctx context.Context, filter SiteFilter) ([]model.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE 1 = 1`
	var args []any
	if filter.Search != "" {
		query += ` AND (owner LIKE ? OR repository LIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}
	if filter.OrganizationID != nil {
		query += ` AND organization_id = ?`
		args = append(args, *filter.OrganizationID)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return scanSites(s.db.QueryContext(ctx, query, args...))
}

// ListSitesForUser returns the sites a user belongs to directly or through an organization.
func (s *SQLiteStore) ListSitesForUser(ctx context.Context, userID int64) ([]model.Site, error) {
	return scanSites(s.db.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites
		WHERE id IN (SELECT site_id FROM site_users WHERE user_id = ?)
		OR organization_id IN (SELECT organization_id FROM organization_roles WHERE user_id = ?)
		ORDER BY id`, userID, userID))
}

// AddSiteUser attaches a user to a site. Adding an existing member is a no-op.
func (s *SQLiteStore) AddSiteUser(ctx context.Context, siteID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO site_users (site_id, user_id) VALUES (?, ?)`, siteID, userID)
	return err
}

// RemoveSiteUser detaches a user from a site.
func (s *SQLiteStore) RemoveSiteUser(ctx context.Context, siteID, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM site_users WHERE site_id = ? AND user_id = ?`, siteID, userID)
	return affected(res, err)
}

// IsSiteUser reports whether the user is attached to the site.
func (s *SQLiteStore) IsSiteUser(ctx context.Context, siteID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM site_users WHERE site_id = ? AND user_id = ?`, siteID, userID).Scan(&n)
	return n > 0, err
}

//
// Builds
//

const buildColumns = `id, site_id, user_id, username, branch, state, requested_commit_sha, cloned_commit_sha,
	token, error, url, reported_state, started_at, completed_at, created_at, updated_at`

func scanBuild(sc scanner) (*model.Build, error) {
	var (
		b                  model.Build
		userID             sql.NullInt64
		started, completed sql.NullTime
	)
	if err := sc.Scan(&b.ID, &b.SiteID, &userID, &b.Username, &b.Branch, &b.State, &b.RequestedCommitSha,
		&b.ClonedCommitSha, &b.Token, &b.Error, &b.URL, &b.ReportedState, &started, &completed,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	b.UserID = intPtr(userID)
	b.StartedAt = timePtr(started)
	b.CompletedAt = timePtr(completed)
	return &b, nil
}

// CreateBuild inserts a build and assigns its ID.
func (s *SQLiteStore) CreateBuild(ctx context.Context, b *model.Build) error {
	stamp(&b.CreatedAt, &b.UpdatedAt)
	res, err := s.db.ExecContext(ctx, `INSERT INTO builds (site_id, user_id, username, branch, state,
		requested_commit_sha, cloned_commit_sha, token, error, url, reported_state, started_at, completed_at,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.SiteID, nullInt(b.UserID), b.Username, b.Branch, b.State, b.RequestedCommitSha, b.ClonedCommitSha,
		b.Token, b.Error, b.URL, b.ReportedState, nullTime(b.StartedAt), nullTime(b.CompletedAt),
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// GetBuild returns the build with the given ID.
func (s *SQLiteStore) GetBuild(ctx context.Context, id int64) (*model.Build, error) {
	return scanBuild(s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id))
}

// UpdateBuild saves the lifecycle fields of b. ReportedState is owned by MarkBuildReported.
func (s *SQLiteStore) UpdateBuild(ctx context.Context, b *model.Build) error {
	b.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE builds SET branch = ?, state = ?, requested_commit_sha = ?,
		cloned_commit_sha = ?, error = ?, url = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		b.Branch, b.State, b.RequestedCommitSha, b.ClonedCommitSha, b.Error, b.URL, nullTime(b.StartedAt),
		nullTime(b.CompletedAt), b.UpdatedAt, b.ID)
	return affected(res, err)
}

// MarkBuildReported records the last state reported to GitHub.
func (s *SQLiteStore) MarkBuildReported(ctx context.Context, id int64, state model.BuildState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE builds SET reported_state = ? WHERE id = ?`, state, id)
	return affected(res, err)
}

// ListBuilds returns builds matching filter, newest first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]model.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE 1 = 1`
	var args []any
	if filter.SiteID != 0 {
		query += ` AND site_id = ?`
		args = append(args, filter.SiteID)
	}
	if filter.UserID != 0 {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Branch != "" {
		query += ` AND branch = ?`
		args = append(args, filter.Branch)
	}
	if len(filter.States) > 0 {
		query += ` AND state IN (?` + strings.Repeat(", ?", len(filter.States)-1) + `)`
		for _, st := range filter.States {
			args = append(args, st)
		}
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var builds []model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *b)
	}
	return builds, rows.Err()
}

//
// Organizations
//

const orgColumns = `id, name, agency, is_sandbox, sandbox_next_cleaning_at, is_active, created_at, updated_at`

func scanOrganization(sc scanner) (*model.Organization, error) {
	var (
		o    model.Organization
		next sql.NullTime
	)
	if err := sc.Scan(&o.ID, &o.Name, &o.Agency, &o.IsSandbox, &next, &o.IsActive, &o.CreatedAt,
		&o.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	o.SandboxNextCleaningAt = timePtr(next)
	return &o, nil
}

func (s *SQLiteStore) queryOrganizations(ctx context.Context, query string, args ...any) ([]model.Organization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *o)
	}
	return orgs, rows.Err()
}

// CreateOrganization inserts an organization and assigns its ID.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, o *model.Organization) error {
	stamp(&o.CreatedAt, &o.UpdatedAt)
	res, err := s.db.ExecContext(ctx, `INSERT INTO organizations (name, agency, is_sandbox,
		sandbox_next_cleaning_at, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Name, o.Agency, o.IsSandbox, nullTime(o.SandboxNextCleaningAt), o.IsActive, o.CreatedAt, o.UpdatedAt)
	if isUniqueErr(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

// GetOrganization returns the organization with the given ID.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id))
}

// UpdateOrganization saves every mutable field of o.
func (s *SQLiteStore) UpdateOrganization(ctx context.Context, o *model.Organization) error {
	o.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE organizations SET name = ?, agency = ?, is_sandbox = ?,
		sandbox_next_cleaning_at = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		o.Name, o.Agency, o.IsSandbox, nullTime(o.SandboxNextCleaningAt), o.IsActive, o.UpdatedAt, o.ID)
	return affected(res, err)
}

// ListOrganizations returns every organization ordered by name.
func (s *SQLiteStore) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	return s.queryOrganizations(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY name`)
}

// ListOrganizationsForUser returns the organizations the user is a member of.
func (s *SQLiteStore) ListOrganizationsForUser(ctx context.Context, userID int64) ([]model.Organization, error) {
	return s.queryOrganizations(ctx, `SELECT `+prefixed("o", orgColumns)+` FROM organizations o
		JOIN organization_roles r ON r.organization_id = o.id WHERE r.user_id = ? ORDER BY o.name`, userID)
}

// ListSandboxOrganizations returns active sandbox organizations.
func (s *SQLiteStore) ListSandboxOrganizations(ctx context.Context) ([]model.Organization, error) {
	return s.queryOrganizations(ctx, `SELECT `+orgColumns+` FROM organizations
		WHERE is_sandbox = TRUE AND is_active = TRUE ORDER BY id`)
}

// ListOrganizationMembers returns the organization roles with Role and User populated.
func (s *SQLiteStore) ListOrganizationMembers(ctx context.Context, orgID int64) ([]model.OrganizationRole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.organization_id, r.user_id, r.role_id, r.created_at,
		r.updated_at, ro.name, `+prefixed("u", userColumns)+` FROM organization_roles r
		JOIN roles ro ON ro.id = r.role_id JOIN users u ON u.id = r.user_id
		WHERE r.organization_id = ? ORDER BY u.id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []model.OrganizationRole
	for rows.Next() {
		var (
			m        model.OrganizationRole
			roleName string
			u        model.User
			signedIn sql.NullTime
			settings string
		)
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.RoleID, &m.CreatedAt, &m.UpdatedAt, &roleName,
			&u.ID, &u.Username, &u.Email, &u.UAAEmail, &u.GithubAccessToken, &u.GithubUserID, &signedIn,
			&settings, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.SignedInAt = timePtr(signedIn)
		u.BuildNotificationSettings = map[int64]string{}
		_ = json.Unmarshal([]byte(settings), &u.BuildNotificationSettings)
		m.Role = &model.Role{ID: m.RoleID, Name: roleName}
		m.User = &u
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetOrganizationRole returns a user's membership in an organization, with Role populated.
func (s *SQLiteStore) GetOrganizationRole(ctx context.Context, orgID, userID int64) (*model.OrganizationRole, error) {
	var (
		m        model.OrganizationRole
		roleName string
	)
	err := s.db.QueryRowContext(ctx, `SELECT r.organization_id, r.user_id, r.role_id, r.created_at,
		r.updated_at, ro.name FROM organization_roles r JOIN roles ro ON ro.id = r.role_id
		WHERE r.organization_id = ? AND r.user_id = ?`, orgID, userID).
		Scan(&m.OrganizationID, &m.UserID, &m.RoleID, &m.CreatedAt, &m.UpdatedAt, &roleName)
	if err != nil {
		return nil, notFound(err)
	}
	m.Role = &model.Role{ID: m.RoleID, Name: roleName}
	return &m, nil
}

// UpsertOrganizationRole creates or replaces a user's role in an organization.
func (s *SQLiteStore) UpsertOrganizationRole(ctx context.Context, m *model.OrganizationRole) error {
	stamp(&m.CreatedAt, &m.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `INSERT INTO organization_roles (organization_id, user_id, role_id,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role_id = excluded.role_id,
		updated_at = excluded.updated_at`,
		m.OrganizationID, m.UserID, m.RoleID, m.CreatedAt, m.UpdatedAt)
	return err
}

//
// Roles
//

// CreateRole inserts a role and assigns its ID.
func (s *SQLiteStore) CreateRole(ctx context.Context, r *model.Role) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO roles (name) VALUES (?)`, r.Name)
	if isUniqueErr(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

// GetRole returns the role with the given ID.
func (s *SQLiteStore) GetRole(ctx context.Context, id int64) (*model.Role, error) {
	var r model.Role
	if err := s.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE id = ?`, id).Scan(&r.ID, &r.Name); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// FindRoleByName returns the role with the given name.
func (s *SQLiteStore) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var r model.Role
	if err := s.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE name = ?`, name).Scan(&r.ID, &r.Name); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

//
// Domains
//

const domainColumns = `id, site_id, names, context, service_name, state, created_at, updated_at`

func scanDomain(sc scanner) (*model.Domain, error) {
	var d model.Domain
	if err := sc.Scan(&d.ID, &d.SiteID, &d.Names, &d.Context, &d.ServiceName, &d.State, &d.CreatedAt,
		&d.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// CreateDomain inserts a domain and assigns its ID.
func (s *SQLiteStore) CreateDomain(ctx context.Context, d *model.Domain) error {
	stamp(&d.CreatedAt, &d.UpdatedAt)
	res, err := s.db.ExecContext(ctx, `INSERT INTO domains (site_id, names, context, service_name, state,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.SiteID, d.Names, d.Context, d.ServiceName, d.State, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

// GetDomain returns the domain with the given ID.
func (s *SQLiteStore) GetDomain(ctx context.Context, id int64) (*model.Domain, error) {
	return scanDomain(s.db.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE id = ?`, id))
}

// DeleteDomain removes a domain.
func (s *SQLiteStore) DeleteDomain(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE id = ?`, id)
	return affected(res, err)
}

// ListDomainsForSite returns a site's domains ordered by ID.
func (s *SQLiteStore) ListDomainsForSite(ctx context.Context, siteID int64) ([]model.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE site_id = ? ORDER BY id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var domains []model.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, *d)
	}
	return domains, rows.Err()
}
