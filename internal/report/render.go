package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pavelanni/simpatient/internal/i18n"
)

const barWidth = 20

var bandMessage = map[Band]string{
	BandLow:    "BandLow",
	BandMedium: "BandMedium",
	BandHigh:   "BandHigh",
}

var metricMessage = map[MetricKey]string{
	MetricInformationDensity: "MetricInformationDensity",
	MetricEmotionalTendency:  "MetricEmotionalTendency",
	MetricResponseLength:     "MetricResponseLength",
	MetricTurnNumber:         "MetricTurnNumber",
}

// Render writes r as plain text using the localizer carried by ctx.
func Render(ctx context.Context, w io.Writer, r Report) error {
	var b strings.Builder

	title := i18n.T(ctx, "ReportTitle")
	fmt.Fprintf(&b, "%s\n%s\n\n", title, strings.Repeat("=", len([]rune(title))))
	fmt.Fprintf(&b, "%s: %.1f/10 (%s)\n\n", i18n.T(ctx, "OverallScore"), r.Overall, i18n.T(ctx, bandMessage[r.OverallBand]))

	fmt.Fprintf(&b, "%s\n", i18n.T(ctx, "CategoryScores"))
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, c := range r.Categories {
		fmt.Fprintf(tw, "  %s\t%4.1f\t%s\t%s\n", categoryLabel(ctx, c), c.Score, bar(c.Percent), i18n.T(ctx, bandMessage[c.Band]))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	writeList(ctx, &b, "Strengths", r.Strengths)
	writeList(ctx, &b, "AreasForImprovement", r.AreasForImprovement)

	if r.Feedback != "" {
		fmt.Fprintf(&b, "\n%s\n  %s\n", i18n.T(ctx, "Feedback"), r.Feedback)
	}

	if len(r.Analytics) > 0 {
		fmt.Fprintf(&b, "\n%s\n", i18n.T(ctx, "Analytics"))
		tw = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, m := range r.Analytics {
			fmt.Fprintf(tw, "  %s\t%s\n", i18n.T(ctx, metricMessage[m.Key]), m.Value)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func categoryLabel(ctx context.Context, c CategoryRow) string {
	id := "Category_" + string(c.Key)
	if s := i18n.T(ctx, id); s != id {
		return s
	}
	return c.Label
}

func writeList(ctx context.Context, b *strings.Builder, heading string, items []string) {
	fmt.Fprintf(b, "\n%s\n", i18n.T(ctx, heading))
	if len(items) == 0 {
		fmt.Fprintf(b, "  %s\n", i18n.T(ctx, "None"))
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

func bar(percent float64) string {
	n := int(percent/100*barWidth + 0.5)
	n = max(0, min(barWidth, n))
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", barWidth-n) + "]"
}
