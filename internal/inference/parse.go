package inference

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the first balanced JSON object in model output, after
// any reasoning block closed by </think>. It returns "" when none is found.
func ExtractJSON(text string) string {
	if i := strings.LastIndex(text, "</think>"); i >= 0 {
		text = text[i+len("</think>"):]
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseLaunch parses a launch answer. A result without a command or a
// confidence in [0,1] is malformed.
func ParseLaunch(text string) (*LaunchResult, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformed)
	}

	var res LaunchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	res.LaunchCommand = strings.TrimSpace(res.LaunchCommand)
	if res.LaunchCommand == "" {
		return nil, fmt.Errorf("%w: missing launch_command", ErrMalformed)
	}
	if res.Confidence == nil || *res.Confidence < 0 || *res.Confidence > 1 {
		return nil, fmt.Errorf("%w: missing or out of range confidence", ErrMalformed)
	}

	valid := res.Alternatives[:0]
	for _, alt := range res.Alternatives {
		alt.Command = strings.TrimSpace(alt.Command)
		if alt.Command == "" || alt.Confidence < 0 || alt.Confidence > 1 {
			continue
		}
		valid = append(valid, alt)
	}
	res.Alternatives = valid
	return &res, nil
}

// ParseDescribe parses a describe answer.
func ParseDescribe(text string) (*DescribeResult, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformed)
	}

	var res DescribeResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	res.Description = strings.TrimSpace(res.Description)
	res.Tooltip = strings.TrimSpace(res.Tooltip)
	if res.Description == "" {
		return nil, fmt.Errorf("%w: missing description", ErrMalformed)
	}
	return &res, nil
}
