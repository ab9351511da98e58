package chart_utils

import (
	"math"
	"testing"
	"time"

	"github.com/metrico/chartql/reader/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	res, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return res
}

func TestConvertGranularityToSeconds(t *testing.T) {
	assert.Equal(t, int64(15), ConvertGranularityToSeconds("15 second"))
	assert.Equal(t, int64(30), ConvertGranularityToSeconds("30 seconds"))
	assert.Equal(t, int64(300), ConvertGranularityToSeconds("5 minute"))
	assert.Equal(t, int64(7200), ConvertGranularityToSeconds("2 hours"))
	assert.Equal(t, int64(7*86400), ConvertGranularityToSeconds("7 day"))
	assert.Equal(t, int64(0), ConvertGranularityToSeconds("auto"))
	assert.Equal(t, int64(0), ConvertGranularityToSeconds("1 fortnight"))
	assert.Equal(t, int64(0), ConvertGranularityToSeconds(""))
}

func TestValidateGranularity(t *testing.T) {
	assert.NoError(t, ValidateGranularity("auto"))
	assert.NoError(t, ValidateGranularity("1 minute"))
	assert.Error(t, ValidateGranularity("minute"))
}

func TestConvertDateRangeToGranularityString(t *testing.T) {
	start := mustTime(t, "2024-01-01T00:00:00Z")
	cases := []struct {
		dur      time.Duration
		expected string
	}{
		{time.Minute, "15 second"},
		{15 * time.Minute, "15 second"},
		{30 * time.Minute, "30 second"},
		{time.Hour, "1 minute"},
		{5 * time.Hour, "5 minute"},
		{24 * time.Hour, "30 minute"},
		{7 * 24 * time.Hour, "6 hour"},
		{30 * 24 * time.Hour, "12 hour"},
		{365 * 24 * time.Hour, "7 day"},
		{10 * 365 * 24 * time.Hour, "30 day"},
	}
	for _, c := range cases {
		res := ConvertDateRangeToGranularityString([2]time.Time{start, start.Add(c.dur)}, 60)
		assert.Equal(t, c.expected, res, c.dur.String())
	}
}

func TestResolveGranularity(t *testing.T) {
	start := mustTime(t, "2024-01-01T00:00:00Z")
	dr := [2]time.Time{start, start.Add(time.Hour)}
	assert.Equal(t, "5 minute", ResolveGranularity("5 minute", nil))
	assert.Equal(t, "1 minute", ResolveGranularity("auto", &dr))
	assert.Equal(t, "", ResolveGranularity("auto", nil))
}

func TestToStartOfInterval(t *testing.T) {
	ts := mustTime(t, "2024-03-05T13:47:38Z")
	assert.Equal(t, mustTime(t, "2024-03-05T13:47:30Z"), ToStartOfInterval(ts, "15 second"))
	assert.Equal(t, mustTime(t, "2024-03-05T13:45:00Z"), ToStartOfInterval(ts, "5 minute"))
	assert.Equal(t, mustTime(t, "2024-03-05T12:00:00Z"), ToStartOfInterval(ts, "6 hour"))
	assert.Equal(t, mustTime(t, "2024-03-05T00:00:00Z"), ToStartOfInterval(ts, "1 day"))
	// 19787 days since epoch, rounded down to a multiple of 7
	assert.Equal(t, time.Unix(19782*86400, 0).UTC(), ToStartOfInterval(ts, "7 day"))
	assert.Equal(t, ts, ToStartOfInterval(ts, "bogus"))

	local := ts.In(time.FixedZone("X", 3*3600))
	assert.Equal(t, mustTime(t, "2024-03-05T13:00:00Z"), ToStartOfInterval(local, "1 hour"))
}

func TestTimeBucketByGranularity(t *testing.T) {
	start := mustTime(t, "2024-01-01T00:00:10Z")
	end := mustTime(t, "2024-01-01T00:03:00Z")
	res := TimeBucketByGranularity(start, end, "1 minute")
	require.Len(t, res, 3)
	assert.Equal(t, mustTime(t, "2024-01-01T00:00:00Z"), res[0])
	assert.Equal(t, mustTime(t, "2024-01-01T00:02:00Z"), res[2])
	assert.Nil(t, TimeBucketByGranularity(start, end, "auto"))
}

func TestGetAlignedDateRange(t *testing.T) {
	dr := [2]time.Time{mustTime(t, "2024-01-01T00:00:10Z"), mustTime(t, "2024-01-01T00:05:01Z")}
	res := GetAlignedDateRange(dr, "1 minute")
	assert.Equal(t, mustTime(t, "2024-01-01T00:00:00Z"), res[0])
	assert.Equal(t, mustTime(t, "2024-01-01T00:06:00Z"), res[1])

	aligned := [2]time.Time{mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-01T00:05:00Z")}
	assert.Equal(t, aligned, GetAlignedDateRange(aligned, "1 minute"))
	assert.Equal(t, dr, GetAlignedDateRange(dr, "auto"))
}

func TestIntervalsInDateRange(t *testing.T) {
	dr := [2]time.Time{mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-01T00:05:00Z")}
	assert.Equal(t, 5.0, IntervalsInDateRange(&dr, "1 minute"))
	assert.True(t, math.IsInf(IntervalsInDateRange(nil, "1 minute"), 1))
}

func TestSplitAndTrimWithBracket(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitAndTrimWithBracket("a, b ,c"))
	assert.Equal(t, []string{"toStartOfInterval(ts, INTERVAL 1 minute)", "ts"},
		SplitAndTrimWithBracket("toStartOfInterval(ts, INTERVAL 1 minute), ts"))
	assert.Equal(t, []string{"LogAttributes['a,b']", `concat("x,y", 'z')`},
		SplitAndTrimWithBracket(`LogAttributes['a,b'], concat("x,y", 'z')`))
	assert.Equal(t, []string{"[1, 2]", "c"}, SplitAndTrimWithBracket("[1, 2], ,c,"))
	assert.Empty(t, SplitAndTrimWithBracket(" "))
}

func TestGetFirstTimestampValueExpression(t *testing.T) {
	assert.Equal(t, "TimestampTime", GetFirstTimestampValueExpression("TimestampTime, Timestamp"))
	assert.Equal(t, "", GetFirstTimestampValueExpression(""))
}

func TestParseToStartOfFunction(t *testing.T) {
	res := ParseToStartOfFunction("toStartOfMinute(Timestamp)")
	require.NotNil(t, res)
	assert.Equal(t, "toStartOfMinute", res.Function)
	assert.Equal(t, "Timestamp", res.Column)
	assert.Equal(t, "", res.FormattedRemainingArgs)

	res = ParseToStartOfFunction("toStartOfInterval(Timestamp, INTERVAL 1 DAY, 'UTC')")
	require.NotNil(t, res)
	assert.Equal(t, "toStartOfInterval", res.Function)
	assert.Equal(t, ", INTERVAL 1 DAY, 'UTC'", res.FormattedRemainingArgs)

	assert.Nil(t, ParseToStartOfFunction("Timestamp"))
	assert.Nil(t, ParseToStartOfFunction("toDate(Timestamp)"))
}

func TestOptimizeTimestampValueExpression(t *testing.T) {
	assert.Equal(t, "toStartOfMinute(Timestamp), Timestamp",
		OptimizeTimestampValueExpression("Timestamp", "ServiceName, toStartOfMinute(Timestamp)"))
	assert.Equal(t, "Timestamp", OptimizeTimestampValueExpression("Timestamp", "ServiceName, Timestamp"))
	assert.Equal(t, "Timestamp", OptimizeTimestampValueExpression("Timestamp", ""))
	assert.Equal(t, "toStartOfMinute(Timestamp), Timestamp",
		OptimizeTimestampValueExpression("toStartOfMinute(Timestamp), Timestamp", "toStartOfMinute(Timestamp)"))
}

func TestJoinQuerySettings(t *testing.T) {
	assert.Equal(t, "max_threads = '4', optimize_read_in_order = 'it\\'s'", JoinQuerySettings([]model.QuerySetting{
		{Setting: "max_threads", Value: "4"},
		{Setting: "", Value: "x"},
		{Setting: "optimize_read_in_order", Value: "it's"},
	}))
	assert.Equal(t, "", JoinQuerySettings(nil))
}

func TestExtractSettingsClauseFromEnd(t *testing.T) {
	sql, settings := ExtractSettingsClauseFromEnd("SELECT 1 FROM t SETTINGS max_threads = 1;")
	assert.Equal(t, "SELECT 1 FROM t", sql)
	assert.Equal(t, "max_threads = 1", settings)

	sql, settings = ExtractSettingsClauseFromEnd("SELECT 1 FROM t")
	assert.Equal(t, "SELECT 1 FROM t", sql)
	assert.Equal(t, "", settings)
}
