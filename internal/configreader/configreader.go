// Package configreader fills a flat config struct from a yaml or toml file,
// command-line flags and environment variables, in that order.
//
// Each exported field becomes one parameter. Its name comes from the "name"
// tag, or the snake_cased field name, and "-" skips it. The same parameter
// is read from the flag -name, and from the environment as NAME or
// PROGRAM_NAME, the prefixed form winning.
package configreader

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"fknsrs.biz/p/feedsync/internal/stringutil"
)

// ErrHelp is returned when the arguments asked for usage, which has already
// been printed.
var ErrHelp = flag.ErrHelp

func Read(program string, arguments, environment []string, out interface{}) error {
	params, err := parameters(out)
	if err != nil {
		return fmt.Errorf("configreader.Read: %w", err)
	}

	prefix := envPrefix(program)

	configPath, ok := lookupArgument(arguments, "config")
	if !ok {
		configPath, ok = lookupEnvironment(environment, prefix, "config")
	}
	if !ok {
		for _, p := range params {
			if p.name == "config" && p.value.Kind() == reflect.String {
				configPath = p.value.String()
			}
		}
	}
	if configPath != "" {
		if err := readFile(configPath, out); err != nil {
			return fmt.Errorf("configreader.Read: %w", err)
		}
	}

	if err := readArguments(program, arguments, params); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("configreader.Read: could not read command-line flags: %w", err)
	}

	for _, p := range params {
		s, ok := lookupEnvironment(environment, prefix, p.name)
		if !ok {
			continue
		}

		if err := p.Set(s); err != nil {
			return fmt.Errorf("configreader.Read: environment variable for %s: %w", p.name, err)
		}
	}

	return nil
}

// parameter binds one struct field. It satisfies flag.Value so the flag
// package and the environment reader share the same parsing.
type parameter struct {
	name  string
	help  string
	field string
	value reflect.Value
}

type textValue interface {
	encoding.TextMarshaler
	encoding.TextUnmarshaler
}

var (
	durationType  = reflect.TypeOf(time.Duration(0))
	textValueType = reflect.TypeOf((*textValue)(nil)).Elem()
)

func parameters(out interface{}) ([]*parameter, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("configreader.parameters: need a non-nil pointer to a struct; got %T", out)
	}

	rv = rv.Elem()
	rt := rv.Type()

	var params []*parameter
	for i := 0; i < rt.NumField(); i++ {
		tf := rt.Field(i)
		if !tf.IsExported() {
			continue
		}

		name := tf.Tag.Get("name")
		if name == "" {
			name = stringutil.PascalToSnake(tf.Name)
		}
		if name == "-" {
			continue
		}

		p := &parameter{name: name, help: tf.Tag.Get("help"), field: tf.Name, value: rv.Field(i)}
		if !p.supported() {
			return nil, fmt.Errorf("configreader.parameters: field %s (%s) has unsupported type %s", tf.Name, name, tf.Type)
		}

		params = append(params, p)
	}

	return params, nil
}

func (p *parameter) text() (textValue, bool) {
	if reflect.PointerTo(p.value.Type()).Implements(textValueType) {
		return p.value.Addr().Interface().(textValue), true
	}

	return nil, false
}

func (p *parameter) supported() bool {
	if _, ok := p.text(); ok {
		return true
	}

	switch p.value.Kind() {
	case reflect.String, reflect.Bool, reflect.Int, reflect.Int64, reflect.Float64:
		return true
	case reflect.Slice:
		return p.value.Type().Elem().Kind() == reflect.String
	}

	return false
}

func (p *parameter) String() string {
	if p == nil || !p.value.IsValid() {
		return ""
	}

	if t, ok := p.text(); ok {
		b, err := t.MarshalText()
		if err != nil {
			return ""
		}
		return string(b)
	}

	switch {
	case p.value.Type() == durationType:
		return time.Duration(p.value.Int()).String()
	case p.value.Kind() == reflect.Slice:
		return strings.Join(p.value.Interface().([]string), ",")
	}

	return fmt.Sprint(p.value.Interface())
}

func (p *parameter) Set(s string) error {
	if t, ok := p.text(); ok {
		return t.UnmarshalText([]byte(s))
	}

	switch {
	case p.value.Type() == durationType:
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		p.value.SetInt(int64(d))
		return nil
	}

	switch p.value.Kind() {
	case reflect.String:
		p.value.SetString(s)
	case reflect.Bool:
		p.value.SetBool(stringutil.LooksTrue(s))
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return err
		}
		p.value.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		p.value.SetFloat(f)
	case reflect.Slice:
		var a []string
		for _, e := range strings.Split(s, ",") {
			if e = strings.TrimSpace(e); e != "" {
				a = append(a, e)
			}
		}
		p.value.Set(reflect.ValueOf(a))
	}

	return nil
}

// IsBoolFlag lets "-verbose" stand alone on the command line.
func (p *parameter) IsBoolFlag() bool {
	return p.value.Kind() == reflect.Bool
}

func readArguments(program string, arguments []string, params []*parameter) error {
	flagSet := flag.NewFlagSet(program, flag.ContinueOnError)

	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Usage: %s [OPTIONS]\n", program)
		flagSet.PrintDefaults()
	}

	for _, p := range params {
		flagSet.Var(p, p.name, p.help)
	}

	return flagSet.Parse(arguments)
}

func envPrefix(program string) string {
	base := strings.TrimSuffix(filepath.Base(program), filepath.Ext(program))
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(base)) + "_"
}

func lookupArgument(arguments []string, name string) (string, bool) {
	for i := 0; i < len(arguments); i++ {
		a := strings.TrimPrefix(arguments[i], "-")
		a = strings.TrimPrefix(a, "-")

		if a == name && i+1 < len(arguments) {
			return arguments[i+1], true
		}
		if strings.HasPrefix(a, name+"=") {
			return a[len(name)+1:], true
		}
	}

	return "", false
}

// lookupEnvironment matches names case-insensitively.
func lookupEnvironment(environment []string, prefix, name string) (string, bool) {
	var bare string
	var found bool

	for _, e := range environment {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}

		switch {
		case strings.EqualFold(k, prefix+name):
			return v, true
		case strings.EqualFold(k, name):
			bare, found = v, true
		}
	}

	return bare, found
}

func readFile(filePath string, out interface{}) error {
	fd, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("readFile: could not open config file: %w", err)
	}
	defer fd.Close()

	switch filepath.Ext(filePath) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(fd).Decode(out); err != nil {
			return fmt.Errorf("readFile: could not read %q as yaml: %w", filePath, err)
		}
	case ".toml":
		if err := toml.NewDecoder(fd).Decode(out); err != nil {
			return fmt.Errorf("readFile: could not read %q as toml: %w", filePath, err)
		}
	default:
		return fmt.Errorf("readFile: could not determine file type for %q", filePath)
	}

	return nil
}
