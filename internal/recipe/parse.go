package recipe

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// On-disk shape of a recipe, before normalization.
type document struct {
	Name      string       `yaml:"name"`
	Desc      string       `yaml:"desc"`
	Homepage  string       `yaml:"homepage"`
	URL       string       `yaml:"url"`
	SHA256    string       `yaml:"sha256"`
	License   string       `yaml:"license"`
	Version   string       `yaml:"version"`
	DependsOn Dependencies `yaml:"depends_on"`
	Install   []Step       `yaml:"install"`
	Test      []Assertion  `yaml:"test"`
}

// Reads and parses the recipe file at path.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parses and validates a YAML recipe.
//
// Unknown top-level keys are rejected so that typos do not silently drop
// steps. A missing version is derived from the source URL.
func Parse(data []byte) (*Recipe, error) {
	var doc document

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}

	r := &Recipe{
		Name:      strings.TrimSpace(doc.Name),
		Desc:      strings.TrimSpace(doc.Desc),
		Homepage:  strings.TrimSpace(doc.Homepage),
		URL:       strings.TrimSpace(doc.URL),
		SHA256:    digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(strings.TrimSpace(doc.SHA256))),
		License:   strings.TrimSpace(doc.License),
		Version:   strings.TrimSpace(doc.Version),
		DependsOn: doc.DependsOn,
		Install:   doc.Install,
		Test:      doc.Test,
	}
	if r.Version == "" {
		r.Version = VersionFromURL(r.URL)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Decodes depends_on from an ordered mapping of name to stage, or from a
// sequence of names and single-entry mappings.
//
//	depends_on:            depends_on:
//	  make: build            - zlib
//	  pkg-config: build      - make: build
func (d *Dependencies) UnmarshalYAML(node *yaml.Node) error {
	var deps Dependencies

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			dep, err := newDependency(node.Content[i], node.Content[i+1])
			if err != nil {
				return err
			}
			deps = append(deps, dep)
		}

	case yaml.SequenceNode:
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				deps = append(deps, Dependency{Name: item.Value, Stage: StageRuntime})
			case yaml.MappingNode:
				if len(item.Content) != 2 {
					return nodeErrorf(item, "dependency entry must have exactly one key")
				}
				dep, err := newDependency(item.Content[0], item.Content[1])
				if err != nil {
					return err
				}
				deps = append(deps, dep)
			default:
				return nodeErrorf(item, "dependency entry must be a name or a name: stage mapping")
			}
		}

	default:
		return nodeErrorf(node, "depends_on must be a mapping or a sequence")
	}

	*d = deps
	return nil
}

func newDependency(key, value *yaml.Node) (Dependency, error) {
	if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
		return Dependency{}, nodeErrorf(key, "dependency must map a name to a stage")
	}

	stage := Stage(strings.TrimPrefix(strings.TrimSpace(value.Value), ":"))
	if stage == "" {
		stage = StageRuntime
	}
	if !slices.Contains([]Stage{StageBuild, StageTest, StageRuntime}, stage) {
		return Dependency{}, nodeErrorf(value, "unknown dependency stage %q", value.Value)
	}
	return Dependency{Name: strings.TrimSpace(key.Value), Stage: stage}, nil
}

// Decodes an install procedure entry.
//
// Accepted forms:
//
//	- run: [make, PREFIX={{prefix}}]   run step
//	  workdir: src                     optional, this step only
//	  env: {CFLAGS: -O2}               optional, this step only
//	- env: {CC: clang}                 modifier, persists
//	- bin: build/tool                  install directive, short form
//	- install: build/libtool.so        install directive, long form
//	  dir: lib
//	  as: libtool.so.1
//	  mode: "0644"
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nodeErrorf(node, "install step must be a mapping")
	}

	var step Step
	var dir, as, mode string
	var installSource *yaml.Node

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		switch k := key.Value; {
		case k == "run":
			program, args, err := decodeCommand(value)
			if err != nil {
				return err
			}
			step.Program, step.Args = program, args
		case k == "workdir":
			step.Workdir = value.Value
		case k == "env":
			if err := value.Decode(&step.Env); err != nil {
				return err
			}
		case k == "install":
			installSource = value
		case k == "dir":
			dir = value.Value
		case k == "as":
			as = value.Value
		case k == "mode":
			mode = value.Value
		case slices.Contains(installDirs, k):
			if installSource != nil {
				return nodeErrorf(key, "install step names more than one source")
			}
			installSource, dir = value, k
		default:
			return nodeErrorf(key, "unknown install step key %q", k)
		}
	}

	if installSource != nil {
		if step.Program != "" {
			return nodeErrorf(node, "a step cannot both run a program and install a file")
		}
		if installSource.Kind != yaml.ScalarNode || installSource.Value == "" {
			return nodeErrorf(installSource, "install source must be a path")
		}
		out := &Output{Source: installSource.Value, Dir: dir, Name: as}
		if out.Dir == "" {
			out.Dir = "bin"
		}
		if mode != "" {
			m, err := strconv.ParseUint(mode, 8, 32)
			if err != nil {
				return nodeErrorf(node, "mode %q is not an octal permission", mode)
			}
			out.Mode = os.FileMode(m).Perm()
		}
		step.Install = out
	} else if dir != "" || as != "" || mode != "" {
		return nodeErrorf(node, "dir, as and mode only apply to install directives")
	}

	*s = step
	return nil
}

// Decodes a test assertion.
//
//	- run: ["{{bin}}/tool", --version]
//	  expect: tool 1.2.3
//	  status: 0
func (a *Assertion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nodeErrorf(node, "test must be a mapping")
	}

	var out Assertion
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "run":
			program, args, err := decodeCommand(value)
			if err != nil {
				return err
			}
			out.Program, out.Args = program, args
		case "expect":
			out.Expect = value.Value
		case "status":
			if err := value.Decode(&out.Status); err != nil {
				return nodeErrorf(value, "status must be an integer")
			}
		default:
			return nodeErrorf(key, "unknown test key %q", key.Value)
		}
	}

	*a = out
	return nil
}

// Decodes a command from a sequence of arguments or a single program name.
//
// A scalar is taken as the program with no arguments. It is never split on
// whitespace.
func decodeCommand(node *yaml.Node) (string, []string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return "", nil, nodeErrorf(node, "run requires a program")
		}
		return node.Value, nil, nil
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return "", nil, err
		}
		if len(argv) == 0 || argv[0] == "" {
			return "", nil, nodeErrorf(node, "run requires a program")
		}
		return argv[0], argv[1:], nil
	default:
		return "", nil, nodeErrorf(node, "run must be a program name or an argument list")
	}
}

func nodeErrorf(node *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", node.Line, fmt.Sprintf(format, args...))
}
