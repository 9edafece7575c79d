package sqldump

import (
	"regexp"
	"strings"
)

type rewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order, each once over the whole text.
var rewrites = []rewrite{
	{regexp.MustCompile(`(?m)^\s*SET.*;$\n?`), ""},
	{regexp.MustCompile(`/\*!.*?\*/;`), ""},
	{regexp.MustCompile(`\s*ENGINE\s*=\s*\w+\s*`), " "},
	{regexp.MustCompile(`\s*DEFAULT\s+CHARSET\s*=\s*\w+\s*`), " "},
	{regexp.MustCompile(`\s*COLLATE\s*=\s*\w+\s*`), " "},
	{regexp.MustCompile(`(?m)^\s*START TRANSACTION;$\n?`), ""},
	{regexp.MustCompile(`(?m)^\s*COMMIT;$\n?`), ""},
}

// Normalize rewrites a MySQL dump into SQL SQLite accepts: session SET
// lines, versioned comments, table options and transaction statements are
// dropped, and backtick quoting becomes double-quote quoting. Invalid SQL is
// passed through untouched.
func Normalize(raw string) string {
	out := raw
	for _, rw := range rewrites {
		out = rw.pattern.ReplaceAllString(out, rw.replacement)
	}
	return strings.ReplaceAll(out, "`", `"`)
}
