// Package account は管理画面にログインする管理ユーザーの認証を提供する。
//
// パスワードはbcryptでハッシュ化して保存し、ログインに成功すると
// セッショントークンをCookieに設定する。
package account
