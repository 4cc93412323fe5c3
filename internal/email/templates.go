package email

import (
	"html/template"
	"strings"
)

// ArticleNotice is what group members are told about a newly published article
type ArticleNotice struct {
	GroupName    string
	ArticleTitle string
	AuthorName   string
	ArticleURL   string
}

var articlePublishedTmpl = template.Must(template.New("article_published").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">New in {{.GroupName}}</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">{{.AuthorName}} published a new article in your group.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 18px; font-weight: bold;">{{.ArticleTitle}}</p>
		</div>
		{{if .ArticleURL}}
		<p><a href="{{.ArticleURL}}" style="color: #667eea;">Read it now</a></p>
		{{end}}
		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			You receive this email because you are a member of {{.GroupName}}.
		</p>
	</div>
</body>
</html>`))

// BuildArticlePublishedBody renders the HTML body. Every field is escaped.
func BuildArticlePublishedBody(n ArticleNotice) (string, error) {
	var b strings.Builder
	if err := articlePublishedTmpl.Execute(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

// BuildArticlePublishedSubject keeps header values on one line
func BuildArticlePublishedSubject(n ArticleNotice) string {
	subject := "[" + n.GroupName + "] " + n.ArticleTitle
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)
}
