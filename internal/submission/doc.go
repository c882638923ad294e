// Package submission は公開フォームからの投稿の受付と、管理画面での
// 一覧・ステータス変更・ダッシュボード集計を提供する。
//
// 投稿は支援依頼、体験談、問い合わせ、応募の4種別で、種別ごとに
// 許可されたステータスを持つ。
package submission
