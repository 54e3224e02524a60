// Package render formats command results for the cobuild CLI.
//
// Without --format, results are tables on a terminal and JSON otherwise.
// --no-color only affects table headers.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var formats = map[string]Format{
	"json":  FormatJSON,
	"table": FormatTable,
	"yaml":  FormatYAML,
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

// ParseFormat parses a --format value. The empty string means the caller
// picks.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	if f, ok := formats[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q: use json, table or yaml", s)
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a renderer for the command's --format and --no-color
// flags, writing to the app's stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isatty.IsTerminal(os.Stdout.Fd()) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), c.App.Writer), nil
}

// NewRendererWithWriter builds a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the renderer's format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render writes data.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		v := indirect(reflect.ValueOf(data))
		if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
			return r.writeRows(v)
		}
		return r.writeRecord(v)
	}
	return fmt.Errorf("unsupported format %q", r.format)
}

// writeRows prints one row per element under a header taken from the
// first element.
func (r *Renderer) writeRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := io.WriteString(r.out, "(no results)\n")
		return err
	}

	cols := columnsOf(indirect(v.Index(0)))
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols.names(), "\t"))
	for i := range v.Len() {
		fmt.Fprintln(tw, strings.Join(cols.values(indirect(v.Index(i))), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	// Styling happens after alignment; escape codes would skew widths.
	header, body, _ := strings.Cut(buf.String(), "\n")
	if !r.noColor {
		header = headerStyle.Render(header)
	}
	_, err := io.WriteString(r.out, header+"\n"+body)
	return err
}

// writeRecord prints one "name: value" line per field or key.
func (r *Renderer) writeRecord(v reflect.Value) error {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		cols := columnsOf(v)
		vals := cols.values(v)
		for i, name := range cols.names() {
			fmt.Fprintf(tw, "%s:\t%s\n", name, vals[i])
		}
	default:
		fmt.Fprintln(tw, formatValue(v))
	}
	return tw.Flush()
}

// column is a struct field index or a map key.
type column struct {
	name  string
	field int
	key   reflect.Value
}

type columns []column

func (cs columns) names() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.name
	}
	return out
}

func (cs columns) values(v reflect.Value) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		switch v.Kind() {
		case reflect.Struct:
			out[i] = formatValue(v.Field(c.field))
		case reflect.Map:
			out[i] = formatValue(v.MapIndex(c.key))
		default:
			out[i] = formatValue(v)
		}
	}
	return out
}

// columnsOf lists exported fields by json name, or string map keys in
// sorted order. Anything else is a single "value" column.
func columnsOf(v reflect.Value) columns {
	switch v.Kind() {
	case reflect.Struct:
		var cs columns
		t := v.Type()
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() {
				cs = append(cs, column{name: jsonName(f), field: i})
			}
		}
		return cs
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		cs := make(columns, len(keys))
		for i, k := range keys {
			cs[i] = column{name: k.String(), key: k}
		}
		return cs
	default:
		return columns{{name: "value"}}
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(f.Name)
	}
	return name
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}
