package channels

import (
	"fmt"
	"html"

	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
)

func renderEmailBody(msg dispatch.Message) string {
	banner := ""
	if msg.Priority == domain.PriorityUrgent {
		banner = `<p style="color:#b91c1c;font-weight:bold;">Urgent — action required</p>`
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;color:#1f2937;">
	<h2>%s</h2>
	%s
	<p>%s</p>
	<p style="color:#6b7280;font-size:12px;">You are receiving this because of your notification settings.</p>
</body>
</html>`, html.EscapeString(msg.Title), banner, html.EscapeString(msg.Body))
}
