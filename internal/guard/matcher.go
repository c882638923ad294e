package guard

import "regexp"

// excludedPattern はガードの対象外とするパスのパターン。
// API、フレームワーク内部パス、拡張子を持つ静的ファイルが該当する。
var excludedPattern = regexp.MustCompile(`^/(api|trpc|_next|_vercel|.*\..*)`)

// Excluded はパスがガードの対象外であるかどうかを返す。
func Excluded(path string) bool {
	return excludedPattern.MatchString(path)
}
