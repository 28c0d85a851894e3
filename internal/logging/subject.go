package logging

import "strings"

// FormatSubject builds the component/task/stage prefix used in console output.
func FormatSubject(component, taskID, stage string) string {
	component = strings.TrimSpace(component)
	taskID = strings.TrimSpace(taskID)
	stage = strings.TrimSpace(stage)
	parts := make([]string, 0, 2)
	if component != "" {
		parts = append(parts, component)
	}
	switch {
	case taskID != "" && stage != "":
		parts = append(parts, "task "+taskID+" ("+stage+")")
	case taskID != "":
		parts = append(parts, "task "+taskID)
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}
