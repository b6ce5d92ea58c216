package expression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsonata "github.com/blues/jsonata-go"
)

const headerPathPrefix = "$.header."

// Extract reads a JSON path such as $.body.json.commits[0].id from document.
// Paths under $.header. are matched case-insensitively; a missing path yields nil.
func Extract(document any, path string) (any, error) {
	if strings.HasPrefix(strings.ToLower(path), headerPathPrefix) {
		path = strings.ToLower(path)
	}

	query, err := toJSONata(path)
	if err != nil {
		return nil, err
	}

	if query == "" {
		return document, nil
	}

	compiled, err := jsonata.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPath, path, err)
	}

	value, err := compiled.Eval(document)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return nil, nil
		}

		return nil, &EvaluationError{Expression: path, Err: fmt.Errorf("%w: %w", ErrEvaluation, err)}
	}

	return value, nil
}

// toJSONata rewrites the dotted/bracketed JSON path subset into a JSONata path
// with every field name backtick-quoted, so names such as x-event survive.
func toJSONata(path string) (string, error) {
	if !strings.HasPrefix(path, "$") {
		return "", fmt.Errorf("%w: %q must start with $", ErrInvalidPath, path)
	}

	rest := path[1:]

	var b strings.Builder

	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if strings.HasPrefix(rest, ".") {
				return "", fmt.Errorf("%w: recursive descent is not supported in %q", ErrInvalidPath, path)
			}

			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}

			name := rest[:end]
			if name == "" {
				return "", fmt.Errorf("%w: empty field name in %q", ErrInvalidPath, path)
			}

			writeField(&b, name)
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed bracket in %q", ErrInvalidPath, path)
			}

			inner := strings.TrimSpace(rest[1:end])
			rest = rest[end+1:]

			switch {
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				writeField(&b, inner[1:len(inner)-1])
			case inner == "*":
				// JSONata maps over arrays implicitly.
			default:
				index, err := strconv.Atoi(inner)
				if err != nil {
					return "", fmt.Errorf("%w: unsupported selector [%s] in %q", ErrInvalidPath, inner, path)
				}

				if b.Len() == 0 {
					b.WriteString("$")
				}

				fmt.Fprintf(&b, "[%d]", index)
			}
		default:
			return "", fmt.Errorf("%w: unexpected %q in %q", ErrInvalidPath, rest[0], path)
		}
	}

	return b.String(), nil
}

func writeField(b *strings.Builder, name string) {
	if b.Len() > 0 {
		b.WriteString(".")
	}

	b.WriteString("`")
	b.WriteString(strings.ReplaceAll(name, "`", ""))
	b.WriteString("`")
}
