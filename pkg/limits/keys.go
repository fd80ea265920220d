package limits

import (
	"fmt"
	"strings"
	"time"
)

// Key TTLs. Each is longer than its window so the last window stays readable
// until the next one starts.
const (
	minuteTTL     = 120 * time.Second
	hourTTL       = 2 * time.Hour
	dayTTL        = 48 * time.Hour
	monthTTL      = 35 * 24 * time.Hour
	concurrentTTL = time.Hour
)

type counterKeys struct {
	minute, hour                          string
	dayRequests, dayTokens, dayCost       string
	monthRequests, monthTokens, monthCost string
	concurrent                            string
	endpointMinute                        string
}

func keysFor(userID, endpoint string, now time.Time) counterKeys {
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")
	minute := now.Unix() / 60
	hour := now.Unix() / 3600

	k := counterKeys{
		minute:        fmt.Sprintf("usage:%s:rt:minute:%d", userID, minute),
		hour:          fmt.Sprintf("usage:%s:rt:hour:%d", userID, hour),
		dayRequests:   fmt.Sprintf("usage:%s:day:%s:requests", userID, day),
		dayTokens:     fmt.Sprintf("usage:%s:day:%s:tokens", userID, day),
		dayCost:       fmt.Sprintf("usage:%s:day:%s:cost", userID, day),
		monthRequests: fmt.Sprintf("usage:%s:month:%s:requests", userID, month),
		monthTokens:   fmt.Sprintf("usage:%s:month:%s:tokens", userID, month),
		monthCost:     fmt.Sprintf("usage:%s:month:%s:cost", userID, month),
		concurrent:    concurrentKey(userID),
	}
	if endpoint != "" {
		k.endpointMinute = fmt.Sprintf("usage:%s:endpoint:%s:minute:%d", userID, endpoint, minute)
	}
	return k
}

func concurrentKey(userID string) string {
	return fmt.Sprintf("usage:%s:concurrent", userID)
}

func customKey(userID string) string {
	return fmt.Sprintf("limits:%s:custom", userID)
}

func userUsagePattern(userID string) string {
	return fmt.Sprintf("usage:%s:*", userID)
}

// validID rejects ids that would break key namespacing or glob patterns.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ":*?[]\\ \t\n")
}

func resetsAt(now time.Time) Resets {
	y, m, d := now.Date()
	return Resets{
		Minute: now.Truncate(time.Minute).Add(time.Minute),
		Hour:   now.Truncate(time.Hour).Add(time.Hour),
		Day:    time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC),
		Month:  time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC),
	}
}
