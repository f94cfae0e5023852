package sequence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// Format renders a document number from a template such as
// "INV-{YYYY}{MM}-{SEQ6}". Supported tokens: {YYYY} {YY} {MM} {DD} {SEQ}
// and {SEQn} for a zero-padded sequence of width n.
func Format(template string, at time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid sequence: %d", seq)
	}

	out := template
	out = strings.ReplaceAll(out, "{YYYY}", at.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", at.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", at.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", at.Format("02"))
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in number template: %s", out)
	}
	return out, nil
}

// NextNumber draws the next value for scope and renders it with template.
func NextNumber(ctx context.Context, seq Sequencer, scope Scope, template string, at time.Time) (string, error) {
	n, err := seq.Next(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("next %s number: %w", scope.Name, err)
	}
	return Format(template, at, n)
}
