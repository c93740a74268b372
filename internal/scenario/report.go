package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// Check is one expected/observed comparison.
type Check struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
	OK       bool   `json:"ok"`
}

// Report collects the checks of one scenario run.
type Report struct {
	Scenario string   `json:"scenario"`
	Notes    []string `json:"notes,omitempty"`
	Checks   []Check  `json:"checks"`
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// expect records a check comparing the string forms of two values.
func (r *Report) expect(name string, expected, observed any) {
	e, o := render(expected), render(observed)
	r.Checks = append(r.Checks, Check{Name: name, Expected: e, Observed: o, OK: e == o})
}

// Failures is the number of failed checks.
func (r Report) Failures() int {
	n := 0
	for _, c := range r.Checks {
		if !c.OK {
			n++
		}
	}
	return n
}

func (r Report) Passed() bool { return r.Failures() == 0 }

// WriteText prints the report as an aligned table.
func (r Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "== %s ==\n", r.Scenario); err != nil {
		return err
	}
	for _, n := range r.Notes {
		if _, err := fmt.Fprintf(w, "  %s\n", n); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  \tcheck\texpected\tobserved")
	for _, c := range r.Checks {
		status := "ok"
		if !c.OK {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", status, c.Name, c.Expected, c.Observed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d/%d checks passed\n\n", len(r.Checks)-r.Failures(), len(r.Checks))
	return err
}

// WriteJSON prints the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}
