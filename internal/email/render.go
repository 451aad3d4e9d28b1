// Package email renders sentiment reports as HTML email and delivers them
// over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"marketpulse/internal/core"
	"marketpulse/internal/report"
)

// Template configures the look of the HTML report email.
type Template struct {
	Name            string
	Subject         string
	HeaderColor     string
	BackgroundColor string
	TextColor       string
	PositiveColor   string
	NegativeColor   string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
}

// DefaultTemplate returns the standard responsive report template.
func DefaultTemplate() *Template {
	return &Template{
		Name:            "default",
		Subject:         "MarketPulse Report - {{.Date}} ({{.OutlookLabel}})",
		HeaderColor:     "#1e3a8a", // Blue-900
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#1e293b", // Slate-800
		PositiveColor:   "#059669", // Emerald-600
		NegativeColor:   "#dc2626", // Red-600
		BorderColor:     "#e2e8f0", // Slate-200
		MaxWidth:        "640px",
		FontFamily:      "system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif",
	}
}

// articleRow is one rendered article line in a report section.
type articleRow struct {
	Title      string
	Source     string
	URL        string
	Confidence string
}

// reportData carries everything the HTML template needs.
type reportData struct {
	Date          string
	Since         string
	OutlookLabel  string
	OutlookScore  string
	Total         int
	PositiveCount int
	NegativeCount int
	NeutralCount  int
	AvgConfidence string
	Positive      []articleRow
	Negative      []articleRow
	Neutral       []articleRow
	CycleLines    []string
}

// Renderer turns reports into subject/HTML/text triples for the mailer.
type Renderer struct {
	tmpl *Template
}

// NewRenderer creates a renderer; tmpl nil means the default template.
func NewRenderer(tmpl *Template) *Renderer {
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	return &Renderer{tmpl: tmpl}
}

// Render produces the email subject, HTML body and plain-text alternative for
// a rolled-up report covering results since the given watermark.
func (r *Renderer) Render(rep core.Report, cycles []core.Cycle, since time.Time) (string, string, string, error) {
	data := buildReportData(rep, cycles, since)

	subject, err := renderSubject(r.tmpl, data)
	if err != nil {
		return "", "", "", err
	}

	htmlBody, err := renderHTML(r.tmpl, data)
	if err != nil {
		return "", "", "", err
	}

	return subject, htmlBody, report.FormatMarkdown(rep), nil
}

func buildReportData(rep core.Report, cycles []core.Cycle, since time.Time) reportData {
	data := reportData{
		Date:          time.Now().Format("January 2, 2006"),
		Since:         since.Format("Jan 2 15:04 MST"),
		OutlookLabel:  report.OutlookLabel(rep.Outlook),
		OutlookScore:  fmt.Sprintf("%.2f", rep.Outlook),
		Total:         rep.Stats.Total,
		PositiveCount: rep.Stats.Positive,
		NegativeCount: rep.Stats.Negative,
		NeutralCount:  rep.Stats.Neutral,
		AvgConfidence: fmt.Sprintf("%.2f", rep.Stats.AvgConfidence),
		Positive:      toRows(rep.Positive),
		Negative:      toRows(rep.Negative),
		Neutral:       toRows(rep.Neutral),
	}

	for _, c := range cycles {
		data.CycleLines = append(data.CycleLines, fmt.Sprintf("%s: %s, %d fetched / %d new",
			c.StartedAt.Format("Jan 2 15:04"), c.State, c.ArticlesFetched, c.ArticlesNew))
	}
	return data
}

func toRows(articles []core.ScoredArticle) []articleRow {
	rows := make([]articleRow, 0, len(articles))
	for _, sa := range articles {
		rows = append(rows, articleRow{
			Title:      sa.Article.Title,
			Source:     sa.Article.Source,
			URL:        sa.Article.URL,
			Confidence: fmt.Sprintf("%.2f", sa.Result.Confidence),
		})
	}
	return rows
}

// renderSubject executes the template's subject line.
func renderSubject(tmpl *Template, data reportData) (string, error) {
	t, err := template.New("subject").Parse(tmpl.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to parse subject template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute subject template: %w", err)
	}
	return buf.String(), nil
}

// renderHTML renders the full HTML report body.
func renderHTML(tmpl *Template, data reportData) (string, error) {
	htmlTemplate := `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Market Sentiment Report</title>
    {{.CSS}}
</head>
<body>
    <table role="presentation" cellspacing="0" cellpadding="0" border="0" width="100%">
        <tr>
            <td align="center">
                <div class="container">
                    <div class="header">
                        <h1>Market Sentiment Report</h1>
                        <p class="date">{{.Data.Date}} &middot; covering results since {{.Data.Since}}</p>
                    </div>

                    <div class="content">
                        <div class="outlook">
                            <h2>Outlook: {{.Data.OutlookLabel}} ({{.Data.OutlookScore}})</h2>
                            <p>{{.Data.Total}} articles analyzed:
                               <span class="positive">{{.Data.PositiveCount}} positive</span>,
                               <span class="negative">{{.Data.NegativeCount}} negative</span>,
                               {{.Data.NeutralCount}} neutral.
                               Average confidence {{.Data.AvgConfidence}}.</p>
                        </div>

                        {{if .Data.Positive}}
                        <h2 class="positive">Positive</h2>
                        {{range .Data.Positive}}
                        <div class="article-card">
                            <h3 class="article-title">{{.Title}}</h3>
                            <div class="article-meta">
                                {{if .Source}}{{.Source}} &middot; {{end}}confidence {{.Confidence}}
                                {{if .URL}} &middot; <a href="{{.URL}}">Read article</a>{{end}}
                            </div>
                        </div>
                        {{end}}
                        {{end}}

                        {{if .Data.Negative}}
                        <h2 class="negative">Negative</h2>
                        {{range .Data.Negative}}
                        <div class="article-card">
                            <h3 class="article-title">{{.Title}}</h3>
                            <div class="article-meta">
                                {{if .Source}}{{.Source}} &middot; {{end}}confidence {{.Confidence}}
                                {{if .URL}} &middot; <a href="{{.URL}}">Read article</a>{{end}}
                            </div>
                        </div>
                        {{end}}
                        {{end}}

                        {{if .Data.Neutral}}
                        <h2>Neutral</h2>
                        {{range .Data.Neutral}}
                        <div class="article-card">
                            <h3 class="article-title">{{.Title}}</h3>
                            <div class="article-meta">
                                {{if .Source}}{{.Source}} &middot; {{end}}confidence {{.Confidence}}
                                {{if .URL}} &middot; <a href="{{.URL}}">Read article</a>{{end}}
                            </div>
                        </div>
                        {{end}}
                        {{end}}

                        {{if .Data.CycleLines}}
                        <h2>Recent Cycles</h2>
                        <ul class="cycles">
                        {{range .Data.CycleLines}}
                        <li>{{.}}</li>
                        {{end}}
                        </ul>
                        {{end}}
                    </div>

                    <div class="footer">
                        <p>Generated by MarketPulse on {{.Data.Date}}</p>
                    </div>
                </div>
            </td>
        </tr>
    </table>
</body>
</html>`

	t, err := template.New("email").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse email template: %w", err)
	}

	templateData := struct {
		Data reportData
		CSS  template.HTML
	}{
		Data: data,
		CSS:  template.HTML(reportCSS(tmpl)),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, templateData); err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}
	return buf.String(), nil
}

// reportCSS returns responsive CSS for the report template.
func reportCSS(tmpl *Template) string {
	return fmt.Sprintf(`
<style type="text/css">
  body, table, td, p, a, li {
    -webkit-text-size-adjust: 100%%;
    -ms-text-size-adjust: 100%%;
  }
  body {
    margin: 0;
    padding: 0;
    background-color: %s;
    font-family: %s;
    color: %s;
  }
  .container {
    max-width: %s;
    margin: 0 auto;
    background-color: #ffffff;
    border: 1px solid %s;
    border-radius: 8px;
    overflow: hidden;
  }
  .header {
    background-color: %s;
    color: #ffffff;
    padding: 24px;
    text-align: center;
  }
  .header h1 { margin: 0; font-size: 22px; }
  .header .date { margin: 8px 0 0; font-size: 13px; opacity: 0.85; }
  .content { padding: 24px; }
  .outlook {
    border: 1px solid %s;
    border-radius: 6px;
    padding: 16px;
    margin-bottom: 20px;
  }
  .outlook h2 { margin: 0 0 8px; font-size: 17px; }
  .positive { color: %s; }
  .negative { color: %s; }
  .article-card {
    border: 1px solid %s;
    border-radius: 6px;
    padding: 14px;
    margin-bottom: 12px;
  }
  .article-title { margin: 0 0 6px; font-size: 15px; }
  .article-meta { font-size: 13px; color: #64748b; }
  .cycles { font-size: 13px; color: #475569; }
  .footer {
    padding: 16px 24px;
    border-top: 1px solid %s;
    font-size: 12px;
    color: #64748b;
    text-align: center;
  }
  @media only screen and (max-width: 640px) {
    .container { width: 100%% !important; border-radius: 0; }
    .content { padding: 16px; }
  }
</style>`,
		tmpl.BackgroundColor, tmpl.FontFamily, tmpl.TextColor,
		tmpl.MaxWidth, tmpl.BorderColor, tmpl.HeaderColor,
		tmpl.BorderColor, tmpl.PositiveColor, tmpl.NegativeColor,
		tmpl.BorderColor, tmpl.BorderColor)
}
