package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateIn(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	tests := []struct {
		name  string
		input string
		loc   *time.Location
		want  Date
	}{
		{"暦日はそのまま", "2024-01-01", jst, "2024-01-01"},
		{"UTC15時はJSTの翌日", "2024-01-01T15:00:00Z", jst, "2024-01-02"},
		{"ミリ秒付き", "2024-01-01T15:00:00.000Z", jst, "2024-01-02"},
		{"UTCでは同じ日", "2024-01-01T15:00:00Z", time.UTC, "2024-01-01"},
		{"nilはUTC", "2024-01-01T23:59:59Z", nil, "2024-01-01"},
		{"空文字列は未設定", "", jst, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateIn(tt.input, tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := ParseDate("2024/01/01")
	assert.Error(t, err)
}

func TestDate_UnmarshalJSON(t *testing.T) {
	var r UserRecord
	require.NoError(t, json.Unmarshal([]byte(`{"lastActiveDate":"2024-05-01T00:00:00Z","joinDate":null}`), &r))
	assert.Equal(t, Date("2024-05-01"), r.LastActiveDate)
	assert.True(t, r.JoinDate.IsZero())
}

func TestDate_AddDays(t *testing.T) {
	assert.Equal(t, Date("2024-03-01"), Date("2024-02-29").AddDays(1))
	assert.Equal(t, Date("2023-12-31"), Date("2024-01-01").AddDays(-1))
}
