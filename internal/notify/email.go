// Package notify 负责把对账运行的摘要以 HTML 邮件发给运维收件人。
package notify

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html/template"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"forwardwatch/toolkit/internal/service"
)

// Config 定义摘要邮件的提交通道。
type Config struct {
	Host     string // host:port
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool
}

// EmailNotifier 通过外部 SMTP 提交端口发送运行摘要。
type EmailNotifier struct {
	cfg Config
	log *zap.Logger
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg Config, log *zap.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, log: log}
}

// SendRunReport 渲染并发送一次对账运行的摘要。
// 没有配置收件人时静默跳过。
func (n *EmailNotifier) SendRunReport(report *service.RunReport) error {
	if n.cfg.Host == "" || len(n.cfg.To) == 0 {
		n.log.Debug("notifier not configured, skipping run report")
		return nil
	}

	body, err := renderRunReport(report)
	if err != nil {
		return fmt.Errorf("render run report: %w", err)
	}

	subject := fmt.Sprintf("转发对账摘要：新增 %d，重复 %d", len(report.New), len(report.Duplicates))
	if report.Remediation != nil && report.Remediation.DryRun {
		subject = "[预演] " + subject
	}
	message := buildMessage(n.cfg.From, n.cfg.To, subject, body)

	if err := n.send(message); err != nil {
		return fmt.Errorf("send run report: %w", err)
	}
	n.log.Info("run report sent", zap.Strings("to", n.cfg.To))
	return nil
}

func (n *EmailNotifier) send(message []byte) error {
	var c *smtp.Client
	var err error
	if n.cfg.StartTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		c, err = smtp.DialStartTLS(n.cfg.Host, tlsConfig)
	} else {
		c, err = smtp.Dial(n.cfg.Host)
	}
	if err != nil {
		return fmt.Errorf("connect to %s: %w", n.cfg.Host, err)
	}
	defer c.Close()

	if n.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	if err := c.Mail(n.cfg.From, nil); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, to := range n.cfg.To {
		if err := c.Rcpt(to, nil); err != nil {
			return fmt.Errorf("set recipient %s: %w", to, err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := wc.Write(message); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		// 消息已被接收，QUIT 失败不影响投递
		n.log.Warn("smtp quit failed", zap.Error(err))
	}
	return nil
}

func buildMessage(from string, to []string, subject string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	buf.WriteString("To:")
	for i, addr := range to {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(" " + addr)
	}
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "Subject: =?UTF-8?B?%s?=\r\n", base64Encode(subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

var reportTemplate = template.Must(template.New("run-report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif;">
<h2>转发历史对账摘要</h2>
<p>开始于 {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}，耗时 {{.Duration}}。
观测 {{.Observed}} 条转发，历史集合现有 {{.StoreSize}} 条记录。</p>

{{if and .Remediation .Remediation.DryRun}}<p><strong>本次为预演运行，未触碰任何账户。</strong></p>{{end}}

<h3>窗口内新增（{{len .New}}）</h3>
{{if .New}}<table border="1" cellpadding="4" cellspacing="0">
<tr><th>账户</th><th>转发地址</th><th>首次出现</th></tr>
{{range .New}}<tr><td>{{.Name}}</td><td>{{.ForwardingAddress}}</td><td>{{.FirstSeen.Format "2006-01-02 15:04"}}</td></tr>
{{end}}</table>{{else}}<p>无</p>{{end}}

<h3>重复转发地址（{{len .Duplicates}}）</h3>
{{if .Duplicates}}<table border="1" cellpadding="4" cellspacing="0">
<tr><th>账户</th><th>转发地址</th><th>末次出现</th></tr>
{{range .Duplicates}}<tr><td>{{.Name}}</td><td>{{.ForwardingAddress}}</td><td>{{.LastSeen.Format "2006-01-02 15:04"}}</td></tr>
{{end}}</table>{{else}}<p>无</p>{{end}}

{{with .Remediation}}
<h3>处置结果</h3>
<p>成功 {{len .Remediated}}，失败 {{len .Failed}}，超出预算未处置 {{len .Overflow}}。</p>
{{if .Failed}}<table border="1" cellpadding="4" cellspacing="0">
<tr><th>账户</th><th>错误</th></tr>
{{range .Failed}}<tr><td>{{.Record.Name}}</td><td>{{.Err}}</td></tr>
{{end}}</table>{{end}}
{{if .Overflow}}<p><strong>以下账户超出单次处置预算，需要人工跟进：</strong></p>
<ul>{{range .Overflow}}<li>{{.Name}}（{{.ForwardingAddress}}）</li>{{end}}</ul>{{end}}
{{end}}
</body>
</html>
`))

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func renderRunReport(report *service.RunReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
