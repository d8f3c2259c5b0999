// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はアカウント名などの表示用テキストからマークアップを除去する。
// 除去後のテキストは通知のタイトル・本文に埋め込まれ、管理画面にそのまま表示される。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は表示用テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを全て除去し、空白を正規化したプレーンテキストを返す。
	// 制御文字は空白に置き換え、連続する空白は1つにまとめる。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示用のプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	// 実体参照で書かれたタグも除去対象にするため、先にデコードしてから除去する。
	// StrictPolicyは残ったテキストをHTMLエスケープするため、
	// JSONで返すプレーンテキストとしては元に戻す
	stripped := html.UnescapeString(s.policy.Sanitize(unescapeAll(raw)))

	stripped = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)

	return strings.Join(strings.Fields(stripped), " ")
}

// maxUnescapeDepth は多重エスケープを展開する回数の上限。
const maxUnescapeDepth = 4

// unescapeAll は変化しなくなるまで（上限まで）HTML実体参照をデコードする。
func unescapeAll(s string) string {
	for i := 0; i < maxUnescapeDepth; i++ {
		u := html.UnescapeString(s)
		if u == s {
			return s
		}
		s = u
	}
	return s
}
