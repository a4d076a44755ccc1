package gateway

import (
	"fmt"
	"regexp"
	"time"
)

const MaxListCount = 50

const (
	PeriodToday     = "TODAY"
	PeriodYesterday = "YESTERDAY"
	PeriodLast7     = "L7D"
	PeriodLast30    = "L30D"
)

var customPeriod = regexp.MustCompile(`^(\d{4}_\d{2}_\d{2}):(\d{4}_\d{2}_\d{2})$`)

// ListQuery selects a page of the OA's followers. The list endpoint takes
// is_follower as the string "true" or "false".
type ListQuery struct {
	Offset     int    `json:"offset"`
	Count      int    `json:"count"`
	Period     string `json:"last_interaction_period"`
	IsFollower bool   `json:"is_follower,string"`
}

// Validate checks the query. A count above MaxListCount is allowed and
// clamped when sent.
func (q ListQuery) Validate() error {
	if q.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0", ErrInvalidQuery)
	}
	if q.Count < 1 {
		return fmt.Errorf("%w: count must be >= 1", ErrInvalidQuery)
	}
	if !ValidPeriod(q.Period) {
		return fmt.Errorf("%w: period %q", ErrInvalidQuery, q.Period)
	}
	return nil
}

func (q ListQuery) clamped() ListQuery {
	if q.Count > MaxListCount {
		q.Count = MaxListCount
	}
	return q
}

// ValidPeriod accepts the fixed periods or a YYYY_MM_DD:YYYY_MM_DD range.
func ValidPeriod(p string) bool {
	switch p {
	case PeriodToday, PeriodYesterday, PeriodLast7, PeriodLast30:
		return true
	}
	m := customPeriod.FindStringSubmatch(p)
	if m == nil {
		return false
	}
	from, err1 := time.Parse("2006_01_02", m[1])
	to, err2 := time.Parse("2006_01_02", m[2])
	return err1 == nil && err2 == nil && !to.Before(from)
}

// CustomPeriod formats a date range the way the list endpoint expects.
func CustomPeriod(from, to time.Time) string {
	return from.Format("2006_01_02") + ":" + to.Format("2006_01_02")
}

type UserRef struct {
	UserID string `json:"user_id"`
}

type UserPage struct {
	Total int       `json:"total"`
	Count int       `json:"count"`
	Users []UserRef `json:"users"`
}

type UserDetail struct {
	UserID              string `json:"user_id"`
	DisplayName         string `json:"display_name"`
	Alias               string `json:"user_alias"`
	Avatar              string `json:"avatar"`
	IsFollower          bool   `json:"user_is_follower"`
	LastInteractionDate string `json:"user_last_interaction_date"`
}
