// Package guard はサイト全体のリクエストを検査するルートガードを提供する。
//
// ロケール接頭辞を解決し、管理画面へのアクセスを token Cookie の署名と
// ロールで制御する。判定は純粋関数 Decide に集約し、Ginミドルウェアと
// net/http ハンドラの2つのアダプタから同じ判定を呼び出す。
package guard
