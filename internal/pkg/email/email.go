package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/qs3c/artgen_go_server/config"
)

type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

// SendVerificationCode 发送邮箱验证码
func (s *Service) SendVerificationCode(to, code string) error {
	subject := "验证码 - ArtGen AI 创作平台"
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">邮箱验证</h2>
        <p>您好，</p>
        <p>您正在注册 ArtGen AI 创作平台账号，验证码为：</p>
        <div style="background-color: #f3f4f6; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px; margin: 20px 0;">
            %s
        </div>
        <p>验证码有效期为 10 分钟，请尽快完成验证。</p>
        <p>如果您没有进行此操作，请忽略此邮件。</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`, code)

	return s.sendHTML(to, subject, body)
}

// SendWelcome 发送欢迎邮件
func (s *Service) SendWelcome(to, username string) error {
	subject := "欢迎加入 - ArtGen AI 创作平台"
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">欢迎加入！</h2>
        <p>您好，%s！</p>
        <p>感谢您注册 ArtGen AI 创作平台，注册奖励积分已到账。</p>
        <p>现在您可以：</p>
        <ul>
            <li>文字生成图片</li>
            <li>图片风格转换</li>
            <li>AI 视频生成</li>
        </ul>
        <p>开始创作吧！</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`, username)

	return s.sendHTML(to, subject, body)
}

// SendInvoice 发送付款成功通知
func (s *Service) SendInvoice(to, planTier string, amount float64, currency string) error {
	subject := "付款成功 - ArtGen AI 创作平台"
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">付款成功</h2>
        <p>您好，</p>
        <p>您的 %s 套餐付款已成功：</p>
        <div style="background-color: #f3f4f6; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; margin: 20px 0;">
            %.2f %s
        </div>
        <p>订阅积分将按计费周期发放到您的账户。</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`, planTier, amount, currency)

	return s.sendHTML(to, subject, body)
}

// SendPaymentFailed 发送付款失败通知
func (s *Service) SendPaymentFailed(to string) error {
	subject := "付款失败 - ArtGen AI 创作平台"
	body := `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #dc2626;">付款失败</h2>
        <p>您好，</p>
        <p>您最近一次的订阅付款未能完成，请检查支付方式后重试。</p>
        <p>套餐到期前未完成续费，订阅将自动停止。</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`

	return s.sendHTML(to, subject, body)
}

// SendCancellation 发送订阅取消确认
func (s *Service) SendCancellation(to, planTier, expiresAt string) error {
	subject := "订阅已取消 - ArtGen AI 创作平台"
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">订阅已取消</h2>
        <p>您好，</p>
        <p>您的 %s 套餐订阅已取消，已付费的服务将保留至 %s。</p>
        <p>期待您的再次订阅。</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`, planTier, expiresAt)

	return s.sendHTML(to, subject, body)
}

// sendHTML 发送 HTML 邮件
func (s *Service) sendHTML(to, subject, body string) error {
	headers := make(map[string]string)
	headers["From"] = s.cfg.From
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=UTF-8"

	var msg strings.Builder
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String()))
}
