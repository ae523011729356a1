package loopback

import (
	"html"
	"strings"

	"github.com/router-for-me/cxlogin/internal/auth"
)

// pageTemplate is the shell of every page rendered into the browser tab.
const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{TITLE}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f3f4f6;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 480px;
        }
        .icon {
            width: 64px;
            height: 64px;
            margin: 0 auto 1.5rem;
            border-radius: 50%;
            display: flex;
            align-items: center;
            justify-content: center;
            color: white;
            font-size: 2rem;
            background: {{COLOR}};
        }
        h1 { color: #1f2937; font-size: 1.5rem; }
        p { color: #6b7280; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="container">
        <div class="icon">{{ICON}}</div>
        <h1>{{TITLE}}</h1>
        <p>{{MESSAGE}}</p>
    </div>
</body>
</html>`

func renderPage(title, message, icon, color string) string {
	page := strings.Replace(pageTemplate, "{{TITLE}}", html.EscapeString(title), -1)
	page = strings.Replace(page, "{{MESSAGE}}", html.EscapeString(message), 1)
	page = strings.Replace(page, "{{ICON}}", icon, 1)
	return strings.Replace(page, "{{COLOR}}", color, 1)
}

// SuccessPage is shown after the credential has been stored and confirmed.
func SuccessPage() string {
	return renderPage("Login Successful", "You are logged in. You can close this window and return to the application.", "&#10003;", "#10b981")
}

// ErrorPage renders err as a terminal failure page.
func ErrorPage(err error) string {
	return renderPage("Login Failed", auth.UserMessage(err)+" You can close this window.", "!", "#ef4444")
}

// supersededPage is written when the flow owning a held-open response is replaced.
func supersededPage() string {
	return renderPage("Login Cancelled", "A newer login attempt replaced this one. You can close this window.", "!", "#f59e0b")
}
