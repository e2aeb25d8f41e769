package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout はスプレッドシートとの間でやり取りする日付の形式です (YYYY-MM-DD)。
const DateLayout = "2006-01-02"

// Date は時刻を持たない暦日を表します。空文字列は「未設定」を意味します。
type Date string

// DateOf は時刻 t をそのロケーションにおける暦日に変換します。
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate は YYYY-MM-DD 形式、または RFC3339 形式の文字列を暦日として解釈します。
// RFC3339 の時刻はUTCの暦日に変換します。
func ParseDate(s string) (Date, error) {
	return ParseDateIn(s, time.UTC)
}

// ParseDateIn は ParseDate と同じ形式を受け付け、RFC3339 の時刻を loc における暦日に変換します。
// スプレッドシート側が日付セルをそのタイムゾーンの0時のISO文字列で返すことがあるため、両方を受け付けます。
func ParseDateIn(s string, loc *time.Location) (Date, error) {
	if s == "" {
		return "", nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("日付 '%s' のパースに失敗しました: %w", s, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(t.In(loc)), nil
}

// IsZero は日付が未設定かどうかを返します。
func (d Date) IsZero() bool {
	return d == ""
}

// Time は暦日をUTCの0時として返します。
func (d Date) Time() (time.Time, error) {
	return time.Parse(DateLayout, string(d))
}

// AddDays は n 日後の暦日を返します。
func (d Date) AddDays(n int) Date {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

func (d Date) String() string {
	return string(d)
}

// UnmarshalJSON はISO形式のタイムスタンプも暦日に正規化して読み込みます。
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("日付フィールドが文字列ではありません: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
