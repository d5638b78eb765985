package utils

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

/**
 * Expand templates in a command line
 * @param {string} command - Command, may contain {{.Field}} references
 * @param {[]string} args - Arguments, each expanded separately
 * @param {any} data - Template data
 * @returns {string, []string, error} Expanded command and arguments
 * @example
 * GetCommandLine("python3", []string{"{{.WorkDir}}/main.py"}, vars)
 */
func GetCommandLine(command string, args []string, data interface{}) (string, []string, error) {
	cmd, err := expand("command", command, data)
	if err != nil {
		return "", nil, err
	}

	// 处理Args模板
	processedArgs := make([]string, 0, len(args))
	for _, arg := range args {
		expanded, err := expand("arg", arg, data)
		if err != nil {
			return "", nil, err
		}
		processedArgs = append(processedArgs, strings.TrimSpace(expanded))
	}
	return cmd, processedArgs, nil
}

func expand(name, text string, data interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template '%s': %w", name, text, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template '%s': %w", name, text, err)
	}
	return buf.String(), nil
}
