package eval

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// #region report
// WriteReport renders the confusion matrix, per-class metrics and overall
// metrics as plain text.
func WriteReport(w io.Writer, title string, r EvalResult) error {
	var b strings.Builder

	if title != "" {
		fmt.Fprintf(&b, "== %s ==\n", title)
	}
	fmt.Fprintf(&b, "Samples: %d counted, %d skipped (label out of range)\n\n", r.Overall.N, r.Skipped)

	b.WriteString("Confusion matrix (rows = true class, columns = predicted class):\n")
	tw := tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.AlignRight)
	c := r.Matrix.Classes()
	fmt.Fprint(tw, "\t")
	for j := 0; j < c; j++ {
		fmt.Fprintf(tw, "%d\t", j)
	}
	fmt.Fprintln(tw)
	for i := 0; i < c; i++ {
		fmt.Fprintf(tw, "%d\t", i)
		for j := 0; j < c; j++ {
			fmt.Fprintf(tw, "%d\t", r.Matrix.At(i, j))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	b.WriteString("\nPer-class metrics:\n")
	tw = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "class\tTP\tFP\tFN\tTN\tprecision\trecall\tf1\terror_rate\taccuracy")
	for _, cm := range r.Classes {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			cm.Class, cm.TP, cm.FP, cm.FN, cm.TN,
			cm.Precision, cm.Recall, cm.F1, cm.ErrorRate, cm.Accuracy)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	o := r.Overall
	fmt.Fprintf(&b, "\nOverall: TP=%d FP=%d FN=%d TN=%d\n", o.TP, o.FP, o.FN, o.TN)
	fmt.Fprintf(&b, "  error_rate=%s accuracy=%s precision=%s recall=%s f1=%s\n",
		o.ErrorRate, o.Accuracy, o.Precision, o.Recall, o.F1)

	if len(r.Alerts) > 0 {
		b.WriteString("\nAlerts:\n")
		for _, a := range r.Alerts {
			fmt.Fprintf(&b, "  WARNING %s\n", a)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// #endregion report
