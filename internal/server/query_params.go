package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

var errInvalidTime = errors.New("invalid_time")

// userIDParam reads the :id path segment. On failure it has already
// written the 400.
func userIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		respondError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

// timeBound parses the first non-empty value as RFC 3339 or a bare date.
// A bare date expands to the start of the day, or its last instant when
// upper is set.
func timeBound(upper bool, values ...string) (*time.Time, error) {
	var raw string
	for _, v := range values {
		if raw = strings.TrimSpace(v); raw != "" {
			break
		}
	}
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return nil, errInvalidTime
	}
	if upper {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}
