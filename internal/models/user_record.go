package models

// RecordKey は UserRecord の主キー (guildId, userId) です。
type RecordKey struct {
	GuildID string
	UserID  string
}

// String はキャッシュやログで使うキー文字列を返します。
func (k RecordKey) String() string {
	return k.GuildID + "_" + k.UserID
}

// UserRecord はギルド内の1ユーザー分のポイント情報です。
type UserRecord struct {
	GuildID         string `json:"guildId"`
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Points          int    `json:"points"`
	LastActiveDate  Date   `json:"lastActiveDate"`
	ConsecutiveDays int    `json:"consecutiveDays"` // 活動で一度も更新されていない場合のみ0
	JoinDate        Date   `json:"joinDate"`
}

// Key は主キーを返します。
func (r *UserRecord) Key() RecordKey {
	return RecordKey{GuildID: r.GuildID, UserID: r.UserID}
}

// Clone はキャッシュ間で共有されないコピーを返します。
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
