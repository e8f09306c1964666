package database

import (
	"net/url"
	"strconv"

	"github.com/rickgao/tickvault/internal/config"
)

// BuildConnString builds a PostgreSQL URL from config. applicationName, if
// set, shows up in pg_stat_activity.
func BuildConnString(cfg config.DBConfig, applicationName string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if applicationName != "" {
		q.Set("application_name", applicationName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
