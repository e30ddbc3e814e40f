package command

import "strings"

// AddBoilerplate wraps a bare snippet in the minimal entry-point scaffold its
// language requires, hoisting import-style lines to the top. It is a no-op
// for languages that need none, and idempotent: source that already carries
// an entry point passes through unchanged.
func AddBoilerplate(language, source string) string {
	switch language {
	case "java":
		return forJava(source)
	case "rust":
		return forRust(source)
	default:
		return source
	}
}

func forJava(source string) string {
	if strings.Contains(source, "public class") {
		return source
	}
	imports, body := splitPrefixLines(source, "import")
	var b strings.Builder
	for _, line := range imports {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("public class Prog {public static void main(String[] args) {\n")
	for _, line := range body {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("}}")
	return b.String()
}

func forRust(source string) string {
	if strings.Contains(source, "fn main") {
		return source
	}
	imports, body := splitPrefixLines(source, "use")
	var b strings.Builder
	for _, line := range imports {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("fn main() {\n")
	for _, line := range body {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("}")
	return b.String()
}

// splitPrefixLines partitions source lines into those starting with the
// given keyword (after indentation) and the rest, preserving order within
// each bucket. Statements sharing a line are split on ';' first so inline
// imports are still hoisted.
func splitPrefixLines(source, keyword string) (matched, rest []string) {
	normalized := strings.ReplaceAll(source, ";", ";\n")
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), keyword+" ") {
			matched = append(matched, line)
		} else {
			rest = append(rest, line)
		}
	}
	return matched, rest
}
