// Package locale はURLのロケール接頭辞の解決と、接頭辞を持たないリクエストの
// ロケール付きパスへのリダイレクト（ロケールネゴシエーション）を提供する。
package locale

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// CookieName は利用者が選択したロケールを保持するCookie名。
const CookieName = "locale"

// DefaultFallback はロケールが決定できない場合に使用するロケール。
const DefaultFallback = "en"

// ErrNoLocales はサポートするロケールが1つも指定されなかったことを表す。
var ErrNoLocales = errors.New("サポートするロケールが指定されていません")

// Negotiator はサポートするロケールの一覧と、優先ロケールの決定規則を保持する。
// 生成後は読み取り専用のため、複数のゴルーチンから同時に使用できる。
type Negotiator struct {
	// codes はサポートするロケールコードの集合。
	codes map[string]struct{}
	// ordered は設定順のロケールコード。
	ordered []string
	// fallback は既定のロケールコード。
	fallback string
	// matcher はAccept-Languageとの照合に使用する。
	matcher language.Matcher
}

// New は新しいNegotiatorを生成する。
// fallbackが空の場合は DefaultFallback を使用し、localesに含まれていなければ先頭に追加する。
func New(locales []string, fallback string) (*Negotiator, error) {
	if len(locales) == 0 {
		return nil, ErrNoLocales
	}
	if fallback == "" {
		fallback = DefaultFallback
	}

	n := &Negotiator{
		codes:    make(map[string]struct{}, len(locales)+1),
		fallback: fallback,
	}
	for _, code := range append([]string{fallback}, locales...) {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := n.codes[code]; dup {
			continue
		}
		n.codes[code] = struct{}{}
		n.ordered = append(n.ordered, code)
	}

	tags := make([]language.Tag, 0, len(n.ordered))
	for _, code := range n.ordered {
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("ロケール %q の解析に失敗: %w", code, err)
		}
		tags = append(tags, tag)
	}
	n.matcher = language.NewMatcher(tags)

	return n, nil
}

// Locales はサポートするロケールコードを返す。先頭は既定のロケール。
func (n *Negotiator) Locales() []string {
	out := make([]string, len(n.ordered))
	copy(out, n.ordered)
	return out
}

// Fallback は既定のロケールコードを返す。
func (n *Negotiator) Fallback() string {
	return n.fallback
}

// Supported はロケールコードがサポート対象かどうかを返す。
func (n *Negotiator) Supported(code string) bool {
	_, ok := n.codes[code]
	return ok
}

// FromPath はパスの最初のセグメントがサポート対象のロケールであればそれを返す。
func (n *Negotiator) FromPath(path string) (string, bool) {
	seg := FirstSegment(path)
	if n.Supported(seg) {
		return seg, true
	}
	return "", false
}

// Preferred はリクエストの優先ロケールを決定する。
// 優先順位: locale Cookie、Accept-Language ヘッダー、既定のロケール。
func (n *Negotiator) Preferred(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && n.Supported(cookie.Value) {
		return cookie.Value
	}

	if accept := r.Header.Get("Accept-Language"); accept != "" {
		tags, _, err := language.ParseAcceptLanguage(accept)
		if err == nil && len(tags) > 0 {
			_, index, confidence := n.matcher.Match(tags...)
			if confidence != language.No && index >= 0 && index < len(n.ordered) {
				return n.ordered[index]
			}
		}
	}

	return n.fallback
}

// Negotiate はロケール接頭辞を持たないリクエストに対し、優先ロケールを付与した
// リダイレクト先を返す。接頭辞が既にある場合は redirect=false を返す。
func (n *Negotiator) Negotiate(r *http.Request) (string, bool) {
	if _, ok := n.FromPath(r.URL.Path); ok {
		return "", false
	}

	target := "/" + n.Preferred(r)
	if r.URL.Path != "" && r.URL.Path != "/" {
		target += r.URL.Path
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target, true
}

// FirstSegment はパスの最初のセグメントを返す。
func FirstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
