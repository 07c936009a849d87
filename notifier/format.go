// Package notifier turns robot battery alerts into email notifications.
package notifier

import (
	"fmt"

	"github.com/dratasich/lakebot-functions/events"
)

const (
	subjectTemplate = "[URGENT] Robot low battery alert - %s"
	bodyTemplate    = "Robot ID: %s (time: %s)\n" +
		"Battery level is %s%%. Immediate charging is required.\n\n" +
		"Please check the lake water quality management system."
)

// Format renders the subject and plain-text body of a battery alert email.
func Format(alert events.BatteryAlert) (subject, body string) {
	subject = fmt.Sprintf(subjectTemplate, alert.DeviceID)
	body = fmt.Sprintf(bodyTemplate, alert.DeviceID, alert.Timestamp, alert.BatteryLevel)
	return subject, body
}
