// Package theme holds the declarative look of the admin UI: a YAML document
// of colors, fonts and branding rendered to CSS custom properties.
//
// A loaded document is overlaid on the embedded default, so a theme only
// needs the fields it changes.
package theme

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

//go:embed default.yaml
var defaultYAML []byte

const maxDocumentBytes = 1 << 20

type Colors struct {
	Primary    string `yaml:"primary" json:"primary"`
	Background string `yaml:"background" json:"background"`
	Surface    string `yaml:"surface" json:"surface"`
	Text       string `yaml:"text" json:"text"`
	Muted      string `yaml:"muted" json:"muted"`
	Danger     string `yaml:"danger" json:"danger"`
}

type Fonts struct {
	Body string `yaml:"body" json:"body"`
	Mono string `yaml:"mono" json:"mono"`
}

type Theme struct {
	Name   string `yaml:"name" json:"name"`
	Title  string `yaml:"title" json:"title"`
	Colors Colors `yaml:"colors" json:"colors"`
	Fonts  Fonts  `yaml:"fonts" json:"fonts"`
	Radius string `yaml:"radius" json:"radius"`
	Logo   string `yaml:"logo" json:"logo"`
}

// Default returns a fresh copy of the embedded theme.
func Default() *Theme {
	var t Theme
	if err := yaml.Unmarshal(defaultYAML, &t); err != nil {
		panic(fmt.Errorf("theme: embedded default.yaml: %w", err))
	}
	return &t
}

// Load reads one YAML document from r over the defaults and validates the
// result. Unknown keys are rejected.
func Load(r io.Reader) (*Theme, error) {
	t := Default()
	dec := yaml.NewDecoder(io.LimitReader(r, maxDocumentBytes))
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(err, "decode theme")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func Parse(b []byte) (*Theme, error) {
	return Load(bytes.NewReader(b))
}

func LoadFile(path string) (*Theme, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open theme %s", path)
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, xerrors.Wrapf(err, "theme %s", path)
	}
	return t, nil
}

var (
	hexColor  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	cssLength = regexp.MustCompile(`^(?:0|\d+(?:\.\d+)?(?:px|rem|em))$`)
	fontList  = regexp.MustCompile(`^[A-Za-z0-9 ,_'"-]+$`)
)

// Validate reports every problem at once.
func (t *Theme) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, errors.New("theme name is required"))
	}
	if strings.TrimSpace(t.Title) == "" {
		errs = append(errs, errors.New("theme title is required"))
	}
	for _, c := range t.colorVars() {
		if !hexColor.MatchString(c.value) {
			errs = append(errs, fmt.Errorf("colors.%s %q must be #rgb or #rrggbb", c.name, c.value))
		}
	}
	for _, f := range []cssVar{{"body", t.Fonts.Body}, {"mono", t.Fonts.Mono}} {
		if !fontList.MatchString(f.value) {
			errs = append(errs, fmt.Errorf("fonts.%s %q has unsupported characters", f.name, f.value))
		}
	}
	if !cssLength.MatchString(t.Radius) {
		errs = append(errs, fmt.Errorf("radius %q must be a px, rem or em length", t.Radius))
	}
	if t.Logo != "" && !validLogo(t.Logo) {
		errs = append(errs, fmt.Errorf("logo %q must be a local path", t.Logo))
	}
	return errors.Join(errs...)
}

// validLogo allows same-origin paths only; the content security policy
// blocks remote images.
func validLogo(s string) bool {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.ContainsRune(s, '\\') {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme == "" && u.Host == ""
}

type cssVar struct{ name, value string }

func (t *Theme) colorVars() []cssVar {
	return []cssVar{
		{"primary", t.Colors.Primary},
		{"background", t.Colors.Background},
		{"surface", t.Colors.Surface},
		{"text", t.Colors.Text},
		{"muted", t.Colors.Muted},
		{"danger", t.Colors.Danger},
	}
}

// CSS renders the theme as :root custom properties. Validate first; values
// are written as-is.
func (t *Theme) CSS() []byte {
	var b bytes.Buffer
	b.WriteString(":root {\n")
	for _, c := range t.colorVars() {
		fmt.Fprintf(&b, "  --color-%s: %s;\n", c.name, c.value)
	}
	fmt.Fprintf(&b, "  --font-body: %s;\n", t.Fonts.Body)
	fmt.Fprintf(&b, "  --font-mono: %s;\n", t.Fonts.Mono)
	fmt.Fprintf(&b, "  --radius: %s;\n", t.Radius)
	b.WriteString("}\n")
	return b.Bytes()
}
