package router

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cartie/cartie/internal/bots"
)

const defaultShowcaseSlug = "system"

var showcasePath = regexp.MustCompile(`/p/app/([^/]+)$`)

// MiniAppFilters are the catalog filters passed to the mini-app as query
// parameters. Zero values are omitted.
type MiniAppFilters struct {
	Brand    string
	Model    string
	YearMin  int
	YearMax  int
	PriceMin int
	PriceMax int
	City     string
}

// BuildMiniAppURL returns the showcase URL of bot, or "" when neither the
// bot nor the process configures a base URL. A path that already names a
// showcase is kept as is.
func BuildMiniAppURL(bot bots.Bot, fallbackBase string, f MiniAppFilters) string {
	base := strings.TrimSpace(bot.Config.MiniAppURL)
	if base == "" {
		base = strings.TrimSpace(fallbackBase)
	}
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	slug := strings.TrimSpace(bot.Config.ShowcaseSlug)
	if slug == "" {
		slug = defaultShowcaseSlug
	}
	path := strings.TrimRight(u.Path, "/")
	switch {
	case showcasePath.MatchString(path):
	case strings.HasSuffix(path, "/p/app"):
		path += "/" + slug
	default:
		path += "/p/app/" + slug
	}
	u.Path = collapseSlashes(path)
	u.RawPath = ""

	q := u.Query()
	setString := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	setInt := func(key string, value int) {
		if value != 0 {
			q.Set(key, strconv.Itoa(value))
		}
	}
	setString("brand", f.Brand)
	setString("model", f.Model)
	setInt("yearMin", f.YearMin)
	setInt("yearMax", f.YearMax)
	setInt("priceMin", f.PriceMin)
	setInt("priceMax", f.PriceMax)
	setString("city", f.City)
	u.RawQuery = q.Encode()
	return u.String()
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}
