package database

import (
	"errors"
	"fmt"
)

// ストアの失敗分類。呼び出し側は errors.Is で判定します。
var (
	// ErrNotFound はキーが存在しないことを表します。エラーではなく「レコードなし」として扱われます。
	ErrNotFound = errors.New("レコードが見つかりません")
	// ErrUnreachable は通信レベルの失敗 (ネットワーク、タイムアウト) です。
	ErrUnreachable = errors.New("リモートストアに接続できません")
	// ErrRemote はリモートが応答したもののアプリケーションエラーを返した場合です。
	ErrRemote = errors.New("リモートストアがエラーを返しました")
	// ErrLocalIO はローカルキャッシュファイルの読み書きに失敗した場合です。
	ErrLocalIO = errors.New("ローカルキャッシュの読み書きに失敗しました")
)

// StoreError は失敗した操作名と分類、原因となったエラーを保持します。
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap は分類と原因の両方を errors.Is / errors.As の対象にします。
func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newStoreError(op string, kind error, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// IsFallbackEligible はローカルキャッシュへのフォールバック対象となる失敗かどうかを返します。
// Unreachable と RemoteError はフォールバック上は同じ扱いです。
func IsFallbackEligible(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrRemote)
}
