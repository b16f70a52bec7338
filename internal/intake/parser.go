package intake

import (
	"regexp"
	"strings"
)

// Action は返信メールから解釈されたコマンドの種別。
type Action string

const (
	// ActionAdd はリンク追加コマンド。
	ActionAdd Action = "add"
	// ActionReschedule は直前配信アイテムの再スケジュールコマンド。
	ActionReschedule Action = "reschedule"
	// ActionUnknown は語彙に無いコマンド。
	ActionUnknown Action = "unknown"
)

// Command は解釈済みのコマンド。
type Command struct {
	Action   Action
	Argument string // ActionAddの場合は対象URL。それ以外は空。
}

// quotedSpanPattern はメールクライアントが挿入する山括弧付きの引用
// （"On ... <addr@example.com> wrote:" など）を除去するためのパターン。
var quotedSpanPattern = regexp.MustCompile(`\s*<[^>]*>\s*`)

// addVerbs はリンク追加を意味する動詞の語彙。
var addVerbs = map[string]bool{
	"todo": true,
	"send": true,
	"read": true,
	"add":  true,
}

// rescheduleVerbs は再スケジュールを意味する動詞の語彙。
var rescheduleVerbs = map[string]bool{
	"unseen":     true,
	"unsee":      true,
	"schedule":   true,
	"reschedule": true,
	"resend":     true,
}

// ParseCommand は返信メールのテキスト本文をコマンドとして解釈する。
//
// 山括弧に囲まれた引用スパンを除去したうえで空白区切りの先頭トークンを
// 動詞とし、大文字小文字を区別せず語彙と照合する。追加コマンドの場合は
// 2番目のトークンを対象URLとして返す。
func ParseCommand(textBody string) Command {
	cleaned := quotedSpanPattern.ReplaceAllString(textBody, " ")

	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return Command{Action: ActionUnknown}
	}

	verb := strings.ToLower(tokens[0])

	switch {
	case addVerbs[verb]:
		if len(tokens) < 2 {
			return Command{Action: ActionUnknown}
		}
		return Command{Action: ActionAdd, Argument: tokens[1]}
	case rescheduleVerbs[verb]:
		return Command{Action: ActionReschedule}
	default:
		return Command{Action: ActionUnknown}
	}
}
