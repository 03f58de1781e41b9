// Package manifest loads and validates a project's cbuild.toml into an
// in-memory build plan (the Manifest), generalizing the target/section
// parsing approach of the teacher build tool to the build-orchestrator
// domain.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"

	"github.com/cbuild-dev/cbuild/internal/cbuilderr"
)

// TargetKind identifies one of the four build artifact kinds.
type TargetKind string

const (
	KindExecutable TargetKind = "exe"
	KindStatic     TargetKind = "static"
	KindShared     TargetKind = "shared"
	KindTest       TargetKind = "test"
)

// Key returns the "<kind>:<name>" target key used throughout the build.
func Key(kind TargetKind, name string) string {
	return string(kind) + ":" + name
}

// Project holds project identity fields.
type Project struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Authors     []string `toml:"authors"`
	Description string   `toml:"description"`
}

// Build holds global build settings.
type Build struct {
	Compiler          string   `toml:"compiler"`
	CStandard         string   `toml:"c_standard"`
	CppStandard       string   `toml:"cpp_standard"`
	OptimizationLevel *int     `toml:"optimization_level"`
	DebugInfo         *bool    `toml:"debug_info"`
	WarningsAsErrors  *bool    `toml:"warnings_as_errors"`
	ExtraFlags        []string `toml:"extra_flags"`
}

// Dependency describes a single third-party dependency. Not consumed by the
// core build engine; read by the out-of-scope dependency manager collaborator.
type Dependency struct {
	Version  string   `toml:"version"`
	Source   string   `toml:"source"`
	Tag      string   `toml:"tag"`
	Branch   string   `toml:"branch"`
	Patch    string   `toml:"patch"`
	Features []string `toml:"features"`
}

// Target is the shared subset of fields every target kind carries. Link-only
// fields (LinkDirs, Libs) are decoded for every kind but are only used when
// linking executables and tests.
type Target struct {
	Name        string            `toml:"name"`
	Sources     []string          `toml:"sources"`
	IncludeDirs []string          `toml:"include_dirs"`
	Defines     map[string]string `toml:"defines"`
	ExtraFlags  []string          `toml:"extra_flags"`
	LinkDirs    []string          `toml:"link_dirs"`
	Libs        []string          `toml:"libs"`
}

// Kind reports which TargetKind this target belongs to; set by the loader
// while building Manifest.Targets, not read from TOML.
type ResolvedTarget struct {
	Kind TargetKind
	Target
}

// Key returns this target's globally-unique "<kind>:<name>" key.
func (t ResolvedTarget) Key() string { return Key(t.Kind, t.Name) }

// HasLinkFields reports whether this target kind carries link-search dirs
// and external library names (executables and tests do, libraries don't).
func (t ResolvedTarget) HasLinkFields() bool {
	return t.Kind == KindExecutable || t.Kind == KindTest
}

// Manifest is the fully-resolved, read-only build plan for one invocation.
type Manifest struct {
	Project      Project
	Build        Build
	Dependencies map[string]Dependency
	Targets      []ResolvedTarget
}

// TargetsByKind returns the ordered subsequence of targets of the given kind.
func (m *Manifest) TargetsByKind(kind TargetKind) []ResolvedTarget {
	var out []ResolvedTarget
	for _, t := range m.Targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// FindTarget returns the target with the given key, if any.
func (m *Manifest) FindTarget(key string) (ResolvedTarget, bool) {
	for _, t := range m.Targets {
		if t.Key() == key {
			return t, true
		}
	}
	return ResolvedTarget{}, false
}

// Env is the evaluation environment conditional manifest sections (e.g.
// [target.'target_os == "windows"']) are compiled and run against.
type Env struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
}

// NewEnv builds the default evaluation environment for the host the build
// is running on.
func NewEnv() Env {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}
	return Env{TargetOS: runtime.GOOS, TargetArch: runtime.GOARCH, Environ: environ}
}

// rawTargets mirrors the [[targets.*]] TOML arrays before kind-tagging.
type rawTargets struct {
	Executable []Target `toml:"executable"`
	StaticLib  []Target `toml:"static_lib"`
	SharedLib  []Target `toml:"shared_lib"`
	Test       []Target `toml:"test"`
}

type rawManifest struct {
	Project      Project               `toml:"project"`
	Build        Build                 `toml:"build"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Targets      rawTargets            `toml:"targets"`
}

// Load reads and validates <project_dir>/cbuild.toml.
func Load(projectDir string) (*Manifest, error) {
	path := filepath.Join(projectDir, "cbuild.toml")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &cbuilderr.ConfigNotFoundError{Path: path}
		}
		return nil, &cbuilderr.IOError{Op: "open manifest", Cause: err}
	}
	defer f.Close()

	return Parse(bufio.NewReader(f), NewEnv())
}

// Parse decodes manifest TOML from r, resolving conditional sections against env.
func Parse(r io.Reader, env Env) (*Manifest, error) {
	var raw map[string]any
	dec := toml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, &cbuilderr.ConfigParsingError{Message: "decode failed", Cause: err}
	}

	processed, err := evaluateTree(raw, env)
	if err != nil {
		return nil, &cbuilderr.ConfigParsingError{Message: "expression evaluation failed", Cause: err}
	}
	raw, _ = processed.(map[string]any)

	var rm rawManifest
	if err := unmarshalSection(raw, "project", &rm.Project); err != nil {
		return nil, err
	}
	if err := unmarshalSection(raw, "build", &rm.Build); err != nil {
		return nil, err
	}
	rm.Dependencies = make(map[string]Dependency)
	if err := unmarshalSection(raw, "dependencies", &rm.Dependencies); err != nil {
		return nil, err
	}

	targetsRaw, _ := raw["targets"].(map[string]any)
	if targetsRaw != nil {
		if err := unmarshalConditionalArray(targetsRaw, "executable", &rm.Targets.Executable, env); err != nil {
			return nil, err
		}
		if err := unmarshalConditionalArray(targetsRaw, "static_lib", &rm.Targets.StaticLib, env); err != nil {
			return nil, err
		}
		if err := unmarshalConditionalArray(targetsRaw, "shared_lib", &rm.Targets.SharedLib, env); err != nil {
			return nil, err
		}
		if err := unmarshalConditionalArray(targetsRaw, "test", &rm.Targets.Test, env); err != nil {
			return nil, err
		}
	}

	if rm.Project.Name == "" || rm.Project.Version == "" || rm.Build.Compiler == "" {
		return nil, &cbuilderr.ConfigParsingError{
			Message: "project.name, project.version and build.compiler are required",
		}
	}

	m := &Manifest{
		Project:      rm.Project,
		Build:        rm.Build,
		Dependencies: rm.Dependencies,
	}
	for _, t := range rm.Targets.Executable {
		m.Targets = append(m.Targets, ResolvedTarget{Kind: KindExecutable, Target: t})
	}
	for _, t := range rm.Targets.StaticLib {
		m.Targets = append(m.Targets, ResolvedTarget{Kind: KindStatic, Target: t})
	}
	for _, t := range rm.Targets.SharedLib {
		m.Targets = append(m.Targets, ResolvedTarget{Kind: KindShared, Target: t})
	}
	for _, t := range rm.Targets.Test {
		m.Targets = append(m.Targets, ResolvedTarget{Kind: KindTest, Target: t})
	}

	return m, nil
}

func mustMarshal(v any) ([]byte, error) { return toml.Marshal(v) }

// unmarshalSection decodes a single named table into dst, if present.
func unmarshalSection(raw map[string]any, name string, dst any) error {
	data, ok := raw[name]
	if !ok {
		return nil
	}
	b, err := mustMarshal(data)
	if err != nil {
		return &cbuilderr.ConfigParsingError{Message: fmt.Sprintf("re-marshal [%s]", name), Cause: err}
	}
	if err := toml.Unmarshal(b, dst); err != nil {
		return &cbuilderr.ConfigParsingError{Message: fmt.Sprintf("parse [%s]", name), Cause: err}
	}
	return nil
}

// unmarshalConditionalArray decodes [[targets.<name>]]-style arrays, where
// each element may itself carry nested conditional tables (keyed by an expr
// boolean expression) that get merged into the base element when true.
func unmarshalConditionalArray(targetsRaw map[string]any, name string, dst any, env Env) error {
	data, ok := targetsRaw[name]
	if !ok {
		return nil
	}
	items, ok := data.([]any)
	if !ok {
		return &cbuilderr.ConfigParsingError{Message: fmt.Sprintf("targets.%s must be an array of tables", name)}
	}

	dstVal := reflect.ValueOf(dst).Elem()
	elemType := dstVal.Type().Elem()

	for _, item := range items {
		itemMap, ok := item.(map[string]any)
		if !ok {
			return &cbuilderr.ConfigParsingError{Message: fmt.Sprintf("targets.%s entries must be tables", name)}
		}

		baseFields := make(map[string]any)
		conditionalFields := make(map[string]map[string]any)
		for key, val := range itemMap {
			if subMap, ok := val.(map[string]any); ok {
				if _, err := expr.Compile(key, expr.Env(env)); err == nil {
					conditionalFields[key] = subMap
					continue
				}
			}
			baseFields[key] = val
		}

		elemPtr := reflect.New(elemType)
		if len(baseFields) > 0 {
			b, err := mustMarshal(baseFields)
			if err != nil {
				return &cbuilderr.ConfigParsingError{Message: "re-marshal target", Cause: err}
			}
			if err := toml.Unmarshal(b, elemPtr.Interface()); err != nil {
				return &cbuilderr.ConfigParsingError{Message: "parse target", Cause: err}
			}
		}

		for expression, condMap := range conditionalFields {
			program, err := expr.Compile(expression, expr.Env(env))
			if err != nil {
				return &cbuilderr.ConfigParsingError{Message: fmt.Sprintf("compile condition %q", expression), Cause: err}
			}
			result, err := expr.Run(program, env)
			if err != nil {
				return &cbuilderr.ConfigParsingError{Message: fmt.Sprintf("evaluate condition %q", expression), Cause: err}
			}
			matched, _ := result.(bool)
			if !matched {
				continue
			}

			b, err := mustMarshal(condMap)
			if err != nil {
				return &cbuilderr.ConfigParsingError{Message: "re-marshal conditional target section", Cause: err}
			}
			condPtr := reflect.New(elemType)
			if err := toml.Unmarshal(b, condPtr.Interface()); err != nil {
				return &cbuilderr.ConfigParsingError{Message: "parse conditional target section", Cause: err}
			}
			if err := mergeStructs(elemPtr.Interface(), condPtr.Interface()); err != nil {
				return &cbuilderr.ConfigParsingError{Message: "merge conditional target section", Cause: err}
			}
		}

		dstVal.Set(reflect.Append(dstVal, elemPtr.Elem()))
	}

	return nil
}

// mergeStructs merges src's non-zero fields into dst: slices are appended,
// maps are merged key-wise, bools are OR'd, everything else overwrites if set.
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst).Elem()
	srcVal := reflect.ValueOf(src).Elem()

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstVal.Field(i)
		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		case reflect.Ptr:
			if !srcField.IsNil() {
				dstField.Set(srcField)
			}
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}
	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString substitutes {{ expr }} template expressions in a string.
func evaluateString(s string, env Env) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var sb strings.Builder
	last := 0
	for _, idx := range matches {
		sb.WriteString(s[last:idx[0]])
		expression := strings.TrimSpace(s[idx[2]:idx[3]])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("compile expression %q: %w", expression, err)
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("run expression %q: %w", expression, err)
		}
		sb.WriteString(fmt.Sprintf("%v", result))
		last = idx[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// evaluateTree walks decoded TOML data and evaluates {{ ... }} string templates.
func evaluateTree(data any, env Env) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processed, err := evaluateTree(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processed
		}
		return v, nil
	case []any:
		for i, item := range v {
			processed, err := evaluateTree(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processed
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}
