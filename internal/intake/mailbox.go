package intake

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// InboundMessage は受信ボックスから取り出したメッセージ1通。
type InboundMessage struct {
	UID      uint32
	From     string
	TextBody string
	HTMLBody string
}

// Mailbox はコマンドメール受信ボックスへの1セッション分の操作。
type Mailbox interface {
	// FetchUnseen は未読メッセージをすべて取得する。既読化はしない。
	FetchUnseen() ([]*InboundMessage, error)

	// Ack はメッセージを処理済み（既読）としてマークする。
	// コマンドの適用が成功した後にのみ呼ぶこと。未読のまま残った
	// メッセージは次回の取り込みで再処理される。
	Ack(uid uint32) error

	Close() error
}

// MailboxDialer は受信ボックスセッションの確立を抽象化する。
type MailboxDialer interface {
	Dial() (Mailbox, error)
}

// IMAPConfig はIMAP受信ボックスへの接続設定。
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool
}

// IMAPDialer はIMAP4rev1サーバーへのMailboxDialer実装。
type IMAPDialer struct {
	config IMAPConfig
	logger *slog.Logger
}

// NewIMAPDialer はIMAPDialerを生成する。
func NewIMAPDialer(config IMAPConfig, logger *slog.Logger) *IMAPDialer {
	return &IMAPDialer{config: config, logger: logger}
}

// Dial はIMAPサーバーに接続し、INBOXを選択したセッションを返す。
func (d *IMAPDialer) Dial() (Mailbox, error) {
	addr := fmt.Sprintf("%s:%d", d.config.Host, d.config.Port)

	var c *imapclient.Client
	var err error
	if d.config.Secure {
		c, err = imapclient.DialTLS(addr, nil)
	} else {
		c, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("IMAPサーバーへの接続に失敗しました: %w", err)
	}

	if err := c.Login(d.config.Username, d.config.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("IMAPログインに失敗しました: %w", err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("INBOXの選択に失敗しました: %w", err)
	}

	return &imapMailbox{client: c, logger: d.logger}, nil
}

// imapMailbox はIMAPセッション上のMailbox実装。
type imapMailbox struct {
	client *imapclient.Client
	logger *slog.Logger
}

func (m *imapMailbox) FetchUnseen() ([]*InboundMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("未読メッセージの検索に失敗しました: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchEnvelope}

	ch := make(chan *imap.Message, len(uids))
	if err := m.client.UidFetch(seqSet, items, ch); err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}

	var messages []*InboundMessage
	for raw := range ch {
		msg, err := m.decode(raw, section)
		if err != nil {
			// 壊れたメッセージは取り込み全体を止めず、スキップして残す。
			m.logger.Warn("メッセージのデコードに失敗しました",
				slog.Int("uid", int(raw.Uid)),
				slog.String("error", err.Error()),
			)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// decode はIMAPメッセージをMIMEとして解析し、差出人とtext/plain・
// text/htmlパートを取り出す。
func (m *imapMailbox) decode(raw *imap.Message, section *imap.BodySectionName) (*InboundMessage, error) {
	body := raw.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("本文セクションがありません")
	}

	reader, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("MIMEの解析に失敗しました: %w", err)
	}

	msg := &InboundMessage{UID: raw.Uid}

	if addrs, err := reader.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = strings.ToLower(addrs[0].Address)
	}
	if msg.From == "" {
		return nil, fmt.Errorf("差出人アドレスがありません")
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("MIMEパートの読み取りに失敗しました: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("パート本文の読み取りに失敗しました: %w", err)
		}

		switch contentType {
		case "text/plain":
			if msg.TextBody == "" {
				msg.TextBody = string(content)
			}
		case "text/html":
			if msg.HTMLBody == "" {
				msg.HTMLBody = string(content)
			}
		}
	}

	return msg, nil
}

func (m *imapMailbox) Ack(uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	flagsOp := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := m.client.UidStore(seqSet, flagsOp, flags, nil); err != nil {
		return fmt.Errorf("既読フラグの付与に失敗しました: %w", err)
	}
	return nil
}

func (m *imapMailbox) Close() error {
	return m.client.Logout()
}
