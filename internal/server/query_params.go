package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantbill/internal/errkind"
)

// Each helper aborts the request with a 400 and returns ok=false when the
// value is present but malformed. Absent values yield the zero value.

// pathID parses the :id route parameter as a snowflake.
func pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidID)
		return 0, false
	}
	return id, true
}

func queryBool(c *gin.Context, key string) (bool, bool) {
	return parseQuery(c, key, strconv.ParseBool)
}

func queryInt(c *gin.Context, key string) (int, bool) {
	return parseQuery(c, key, strconv.Atoi)
}

// queryTime accepts RFC3339 or a bare date. A bare date resolves to the start
// of that UTC day, or to its last nanosecond when endOfDay is set.
func queryTime(c *gin.Context, key string, endOfDay bool) (time.Time, bool) {
	return parseQuery(c, key, func(raw string) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return time.Time{}, err
		}
		if endOfDay {
			return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return day, nil
	})
}

func parseQuery[T any](c *gin.Context, key string, parse func(string) (T, error)) (T, bool) {
	var zero T
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return zero, true
	}
	v, err := parse(raw)
	if err != nil {
		AbortWithError(c, errkind.Validation("invalid_"+key))
		return zero, false
	}
	return v, true
}
