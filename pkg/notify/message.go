package notify

import (
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[models.ExecutionStatus]string{
	models.StatusCompleted: ":white_check_mark:",
	models.StatusFailed:    ":x:",
	models.StatusTimeout:   ":hourglass:",
	models.StatusCancelled: ":no_entry_sign:",
}

var statusLabel = map[models.ExecutionStatus]string{
	models.StatusCompleted: "Remediation Complete",
	models.StatusFailed:    "Remediation Failed",
	models.StatusTimeout:   "Remediation Timed Out",
	models.StatusCancelled: "Remediation Cancelled",
}

func executionURL(executionID, dashboardURL string) string {
	return fmt.Sprintf("%s/executions/%s", dashboardURL, executionID)
}

func section(text string) goslack.Block {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

func linkButton(label, url string) goslack.Block {
	btn := goslack.NewButtonBlockElement("", "",
		goslack.NewTextBlockObject(goslack.PlainTextType, label, false, false))
	btn.URL = url
	return goslack.NewActionBlock("", btn)
}

// BuildStartedMessage creates Block Kit blocks for an execution start
// notification.
func BuildStartedMessage(input ExecutionStartedInput, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":arrows_counterclockwise: *Remediation started* — runbook `%s`", input.RunbookName)
	if input.AlertName != "" {
		text += fmt.Sprintf(" for alert `%s`", input.AlertName)
	}
	if input.DryRun {
		text += " _(dry-run)_"
	}
	blocks := []goslack.Block{section(text)}
	if dashboardURL != "" {
		blocks = append(blocks, linkButton("View Execution", executionURL(input.ExecutionID, dashboardURL)))
	}
	return blocks
}

// BuildTerminalMessage creates Block Kit blocks for a terminal execution
// notification.
func BuildTerminalMessage(input ExecutionFinishedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Remediation " + string(input.Status)
	}

	headerText := fmt.Sprintf("%s *%s* — runbook `%s`", emoji, label, input.RunbookName)
	if input.Duration > 0 {
		headerText += fmt.Sprintf(" in %s", input.Duration.Round(time.Second))
	}
	if input.ErrorMessage != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
	}
	blocks := []goslack.Block{section(headerText)}

	if dashboardURL != "" {
		buttonText := "View Execution"
		if input.Status != models.StatusCompleted {
			buttonText = "View Details"
		}
		blocks = append(blocks, linkButton(buttonText, executionURL(input.ExecutionID, dashboardURL)))
	}
	return blocks
}

// BuildApprovalMessage creates Block Kit blocks for a pending-approval
// notification.
func BuildApprovalMessage(input ApprovalPendingInput, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":raised_hand: *Approval required* — runbook `%s`", input.RunbookName)
	if input.AlertName != "" {
		text += fmt.Sprintf(" matched alert `%s`", input.AlertName)
	}
	if !input.DueAt.IsZero() {
		text += fmt.Sprintf("\nExpires <!date^%d^{date_short_pretty} {time}|%s> unless approved.",
			input.DueAt.Unix(), input.DueAt.UTC().Format(time.RFC3339))
	}
	blocks := []goslack.Block{section(text)}
	if dashboardURL != "" {
		blocks = append(blocks, linkButton("Review & Approve", executionURL(input.ExecutionID, dashboardURL)))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full output in dashboard)_"
}
