// Package middleware はGinベースのHTTPサーバーで使用する共通ミドルウェアを提供する。
//
// セッショントークンの発行と検証、APIの認証・ロール確認、アクセスログ、
// パニックリカバリ、CORS設定など、サイト全体で共通して使用する部品を含む。
package middleware
