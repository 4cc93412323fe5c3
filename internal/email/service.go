package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Service handles email sending via SMTP
type Service struct {
	host    string
	port    string
	from    string
	baseURL string
}

// NewService creates a new email service. baseURL is used to build article
// links and may be empty.
func NewService(host, port, from, baseURL string) *Service {
	return &Service{
		host:    host,
		port:    port,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ArticleURL returns the public link to an article, or "" without a base URL
func (s *Service) ArticleURL(articleID string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/articles/" + articleID
}

// SendArticlePublished tells one group member about a new article
func (s *Service) SendArticlePublished(to string, n ArticleNotice) error {
	body, err := BuildArticlePublishedBody(n)
	if err != nil {
		return err
	}
	return s.send(to, BuildArticlePublishedSubject(n), body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
