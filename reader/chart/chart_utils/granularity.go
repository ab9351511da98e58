package chart_utils

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	GranularityAuto = "auto"

	DefaultAutoGranularityMaxBuckets = 60
)

// Granularities lists the supported bucket widths, narrowest first.
var Granularities = []string{
	"15 second",
	"30 second",
	"1 minute",
	"5 minute",
	"10 minute",
	"15 minute",
	"30 minute",
	"1 hour",
	"2 hour",
	"6 hour",
	"12 hour",
	"1 day",
	"2 day",
	"7 day",
	"30 day",
}

var unitSeconds = map[string]int64{
	"second": 1,
	"minute": 60,
	"hour":   3600,
	"day":    86400,
}

func parseGranularity(granularity string) (int64, string, bool) {
	parts := strings.Fields(granularity)
	if len(parts) != 2 {
		return 0, "", false
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || n <= 0 {
		return 0, "", false
	}
	unit := strings.ToLower(strings.TrimSuffix(parts[1], "s"))
	if _, ok := unitSeconds[unit]; !ok {
		return 0, "", false
	}
	return n, unit, true
}

// ConvertGranularityToSeconds returns the bucket width of an "<n> <unit>" interval or 0 when it can't be parsed.
func ConvertGranularityToSeconds(granularity string) int64 {
	n, unit, ok := parseGranularity(granularity)
	if !ok {
		return 0
	}
	return n * unitSeconds[unit]
}

// ValidateGranularity accepts "auto" and any parsable interval.
func ValidateGranularity(granularity string) error {
	if granularity == GranularityAuto || ConvertGranularityToSeconds(granularity) > 0 {
		return nil
	}
	return errors.Errorf("invalid granularity %q", granularity)
}

// ConvertDateRangeToGranularityString picks the narrowest granularity keeping the range under maxBuckets buckets.
func ConvertDateRangeToGranularityString(dateRange [2]time.Time, maxBuckets int) string {
	if maxBuckets <= 0 {
		maxBuckets = DefaultAutoGranularityMaxBuckets
	}
	diffSeconds := math.Floor(float64(dateRange[1].UnixMilli()-dateRange[0].UnixMilli()) / 1000)
	bucketSeconds := int64(math.Ceil(diffSeconds / float64(maxBuckets)))
	for _, g := range Granularities {
		if bucketSeconds <= ConvertGranularityToSeconds(g) {
			return g
		}
	}
	return Granularities[len(Granularities)-1]
}

// ResolveGranularity expands "auto" against the date range. Returns "" when auto can't be resolved.
func ResolveGranularity(granularity string, dateRange *[2]time.Time) string {
	if granularity != GranularityAuto {
		return granularity
	}
	if dateRange == nil {
		return ""
	}
	return ConvertDateRangeToGranularityString(*dateRange, DefaultAutoGranularityMaxBuckets)
}

// ToStartOfInterval rounds t down to the granularity in UTC the way ClickHouse does.
// Day buckets are counted from the unix epoch.
func ToStartOfInterval(t time.Time, granularity string) time.Time {
	n, unit, ok := parseGranularity(granularity)
	if !ok {
		return t
	}
	t = t.UTC()
	switch unit {
	case "second":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second()/int(n)*int(n), 0, time.UTC)
	case "minute":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()/int(n)*int(n), 0, 0, time.UTC)
	case "hour":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()/int(n)*int(n), 0, 0, 0, time.UTC)
	}
	days := math.Floor(float64(t.UnixMilli()) / 1000 / 86400)
	rounded := int64(math.Floor(days/float64(n))) * n
	return time.Unix(rounded*86400, 0).UTC()
}

// TimeBucketByGranularity lists bucket starts covering [start, end).
func TimeBucketByGranularity(start time.Time, end time.Time, granularity string) []time.Time {
	step := ConvertGranularityToSeconds(granularity)
	if step <= 0 {
		return nil
	}
	var res []time.Time
	for t := ToStartOfInterval(start, granularity); t.Before(end); t = t.Add(time.Duration(step) * time.Second) {
		res = append(res, t)
	}
	return res
}

// GetAlignedDateRange widens the range outwards to whole buckets.
func GetAlignedDateRange(dateRange [2]time.Time, granularity string) [2]time.Time {
	step := ConvertGranularityToSeconds(granularity)
	if step <= 0 {
		return dateRange
	}
	start := ToStartOfInterval(dateRange[0], granularity)
	end := ToStartOfInterval(dateRange[1], granularity)
	if end.Before(dateRange[1]) {
		end = end.Add(time.Duration(step) * time.Second)
	}
	return [2]time.Time{start, end}
}

// IntervalsInDateRange counts granularity buckets in the range. Returns +Inf without a range.
func IntervalsInDateRange(dateRange *[2]time.Time, granularity string) float64 {
	step := ConvertGranularityToSeconds(granularity)
	if dateRange == nil || step <= 0 {
		return math.Inf(1)
	}
	return dateRange[1].Sub(dateRange[0]).Seconds() / float64(step)
}
