package report

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const emailBodyStyle = `font-family: Calibri, Arial, sans-serif; font-size: 11pt; color: #1f1f1f; line-height: 1.35;`

// Subject is the email subject for a report.
func Subject(r Report) string {
	parts := []string{"Status Report"}
	if team := strings.TrimSpace(r.Team); team != "" {
		parts = append(parts, team)
	}
	if !r.Date.IsZero() {
		parts = append(parts, r.Date.Format("20060102"))
	}
	return strings.Join(parts, " ")
}

// EML wraps the Markdown report in a multipart plain/HTML email draft.
func EML(r Report) string {
	return buildEML(Subject(r), Markdown(r))
}

func buildEML(subject, body string) string {
	const boundary = "pulsecheck-alt"
	headers := []string{
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		fmt.Sprintf("Subject: %s", subject),
	}
	plain := normalizeCRLF(markdownToEmailPlain(body))

	var out strings.Builder
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")
	out.WriteString("--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(plain)
	if !strings.HasSuffix(plain, "\r\n") {
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(markdownToEmailHTML(body))
	out.WriteString("\r\n--" + boundary + "--\r\n")
	return out.String()
}

// WriteMarkdownFile stores the report as <team>_<yyyymmdd>.md under dir.
func WriteMarkdownFile(r Report, dir string) (string, error) {
	return writeFile(dir, Filename(r, "md"), Markdown(r))
}

// WriteEmailDraftFile stores the report as an .eml draft under dir.
func WriteEmailDraftFile(r Report, dir string) (string, error) {
	return writeFile(dir, Filename(r, "eml"), EML(r))
}

func writeFile(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, []byte(content), 0644)
}

// Filename is the download name for the report with the given extension.
func Filename(r Report, ext string) string {
	return fileStem(r) + "." + ext
}

func fileStem(r Report) string {
	team := strings.TrimSpace(r.Team)
	if team == "" {
		team = "status"
	}
	date := r.Date
	if date.IsZero() {
		date = time.Now()
	}
	return sanitizeFilename(team) + "_" + date.Format("20060102")
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

func normalizeCRLF(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

// markdownToEmailPlain drops heading markers and bold markup and collapses
// runs of blank lines.
func markdownToEmailPlain(body string) string {
	var out []string
	prevBlank := false
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			line = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
		line = strings.ReplaceAll(line, "**", "")
		if strings.TrimSpace(line) == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
			out = append(out, "")
			continue
		}
		prevBlank = false
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
}

var boldTokenRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)

func markdownToEmailHTML(body string) string {
	var b strings.Builder
	b.WriteString(`<html><body style="` + emailBodyStyle + `">`)
	inList := false
	closeList := func() {
		if inList {
			b.WriteString(`</ul>`)
			inList = false
		}
	}

	for _, raw := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "":
			closeList()
			b.WriteString(`<div style="height: 10px;"></div>`)
		case strings.HasPrefix(trimmed, "# "):
			closeList()
			b.WriteString(`<div style="font-size: 16pt; font-weight: 700; margin: 0 0 8px 0;">` +
				renderInlineBold(strings.TrimSpace(trimmed[2:])) + `</div>`)
		case strings.HasPrefix(trimmed, "## "):
			closeList()
			b.WriteString(`<div style="font-weight: 700; margin: 12px 0 6px 0;">` +
				renderInlineBold(strings.TrimSpace(trimmed[3:])) + `</div>`)
		case trimmed == "---":
			closeList()
			b.WriteString(`<hr style="border: 0; border-top: 1px solid #d0d0d0;">`)
		case strings.HasPrefix(trimmed, "• ") || strings.HasPrefix(trimmed, "- "):
			if !inList {
				b.WriteString(`<ul style="margin: 0 0 0 18px; padding-left: 18px; list-style-type: disc;">`)
				inList = true
			}
			text := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "• "), "- "))
			b.WriteString(`<li style="margin: 2px 0;">` + renderInlineBold(text) + `</li>`)
		default:
			closeList()
			b.WriteString(`<div style="margin: 2px 0;">` + renderInlineBold(trimmed) + `</div>`)
		}
	}
	closeList()
	b.WriteString(`</body></html>`)
	return b.String()
}

func renderInlineBold(s string) string {
	matches := boldTokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return html.EscapeString(s)
	}
	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(html.EscapeString(s[last:m[0]]))
		out.WriteString("<strong>")
		out.WriteString(html.EscapeString(s[m[2]:m[3]]))
		out.WriteString("</strong>")
		last = m[1]
	}
	out.WriteString(html.EscapeString(s[last:]))
	return out.String()
}
