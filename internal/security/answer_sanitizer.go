package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// AnswerSanitizerService は生成された回答テキストのサニタイズ機能の
// インターフェースを定義する。外部の生成サービスが返すテキストは
// 信頼できない入力として扱い、保存前に必ずサニタイズする。
type AnswerSanitizerService interface {
	// Sanitize は回答テキストをサニタイズして安全なテキストを返す。
	// 説明文として妥当な整形タグのみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// answerSanitizer はAnswerSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type answerSanitizer struct {
	policy *bluemonday.Policy
}

// NewAnswerSanitizer はAnswerSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, blockquote, pre, code, strong, em
//   - aタグ: href属性のみ許可し、target="_blank"とrel="noopener noreferrer"を強制付与
//   - 相対URLは不許可
//   - 上記以外のタグ、全てのon*イベント属性は除去される
func NewAnswerSanitizer() *answerSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("http", "https")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(false)
	p.RequireNoReferrerOnFullyQualifiedLinks(true)

	return &answerSanitizer{policy: p}
}

// Sanitize は回答テキストをサニタイズして安全なテキストを返す。
func (s *answerSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return s.policy.Sanitize(raw)
}

// compile-time interface check
var _ AnswerSanitizerService = (*answerSanitizer)(nil)
