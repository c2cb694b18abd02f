package util

import (
	"fmt"
	"strings"

	"github.com/pages-platform/pages-core/model"
)

// SiteRoot is the S3 website endpoint serving published sites.
func SiteRoot(bucket, region string) string {
	return fmt.Sprintf("http://%s.s3-website-%s.amazonaws.com", bucket, region)
}

// SiteViewLink is the public URL of a site's default branch.
func SiteViewLink(site *model.Site, siteRoot string) string {
	if site.Domain != "" {
		return site.Domain
	}
	return strings.Join([]string{siteRoot, "site", site.Owner, site.Repository}, "/")
}

// DemoViewLink is the public URL of a site's demo branch.
func DemoViewLink(site *model.Site, siteRoot string) string {
	if site.DemoDomain != "" {
		return site.DemoDomain
	}
	return strings.Join([]string{siteRoot, "demo", site.Owner, site.Repository}, "/")
}

// BuildViewLink is where the output of a build can be viewed. It always ends with a slash.
func BuildViewLink(build *model.Build, site *model.Site, siteRoot string) string {
	var link string
	switch {
	case build.Branch == site.DefaultBranch:
		link = SiteViewLink(site, siteRoot)
	case site.DemoBranch != "" && build.Branch == site.DemoBranch:
		link = DemoViewLink(site, siteRoot)
	default:
		link = strings.Join([]string{siteRoot, "preview", site.Owner, site.Repository, build.Branch}, "/")
	}
	return strings.TrimRight(link, "/") + "/"
}

// BuildLogsLink is the page showing a build's logs in the web app.
func BuildLogsLink(hostname string, build *model.Build) string {
	return fmt.Sprintf("%s/sites/%d/builds/%d/logs", strings.TrimRight(hostname, "/"), build.SiteID, build.ID)
}
