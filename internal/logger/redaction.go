package logger

import (
	"io"
	"regexp"
)

// defaultPatterns covers the credential shapes most likely to land in
// tool output or config dumps
var defaultPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`, // anthropic keys
	`sk-[a-zA-Z0-9_-]{20,}`,     // openai keys
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`password["\s:=]+[^\s"]+`,
	`pwd["\s:=]+[^\s"]+`,
	`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	`AKIA[0-9A-Z]{16}`, // aws access keys
	`secret["\s:=]+[^\s"]+`,
}

// Redactor replaces credential-shaped substrings with a placeholder
type Redactor struct {
	patterns []*regexp.Regexp
}

func NewRedactor() *Redactor {
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(defaultPatterns))}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern registers an extra shape to scrub
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact scrubs every known credential shape from s
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap scrubs everything written through the returned writer
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{out: w, r: r}
}

type redactingWriter struct {
	out io.Writer
	r   *Redactor
}

// Write reports the original length so an enclosing MultiWriter does
// not see a short write when redaction shrinks the payload.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write([]byte(w.r.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
