package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config models trackline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// Empty secret disables bearer and API key auth entirely.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Project    ProjectSeed    `yaml:"project"`
	Attributes []AttributeDef `yaml:"attributes"`
}

// ProjectSeed is the project bootstrapped on first run.
type ProjectSeed struct {
	Name        string         `yaml:"name"`
	Code        string         `yaml:"code"`
	Library     bool           `yaml:"library"`
	FolderTypes []TypeSeed     `yaml:"folder_types"`
	TaskTypes   []TypeSeed     `yaml:"task_types"`
	Statuses    []StatusSeed   `yaml:"statuses"`
	Attrib      map[string]any `yaml:"attrib"`
}

type TypeSeed struct {
	Name      string `yaml:"name"`
	ShortName string `yaml:"short_name"`
	Icon      string `yaml:"icon"`
}

type StatusSeed struct {
	Name  string   `yaml:"name"`
	State string   `yaml:"state"`
	Icon  string   `yaml:"icon"`
	Color string   `yaml:"color"`
	Scope []string `yaml:"scope"`
}

// AttributeDef declares one attribute of the server-wide schema.
type AttributeDef struct {
	Name  string        `yaml:"name"`
	Scope []string      `yaml:"scope"`
	Data  AttributeData `yaml:"data"`
}

type AttributeData struct {
	Type        string   `yaml:"type" json:"type"`
	Title       string   `yaml:"title" json:"title,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Default     any      `yaml:"default" json:"default,omitempty"`
	Enum        []string `yaml:"enum" json:"enum,omitempty"`
}

var (
	validStates = map[string]bool{
		"not_started": true, "in_progress": true, "done": true, "blocked": true,
	}
	validScopes = map[string]bool{
		"project": true, "folder": true, "task": true,
		"product": true, "version": true, "representation": true, "workfile": true,
	}
	validAttrTypes = map[string]bool{
		"string": true, "integer": true, "float": true, "boolean": true,
		"datetime": true, "list_of_strings": true,
	}
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_\.\-]*$`)
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run tl init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("config.project.name is required")
	}
	if !namePattern.MatchString(c.Project.Name) {
		return fmt.Errorf("config.project.name %q is not a valid project name", c.Project.Name)
	}
	if c.Project.Code == "" {
		return fmt.Errorf("config.project.code is required")
	}
	if len(c.Project.Statuses) == 0 {
		return fmt.Errorf("config.project.statuses must define at least one status")
	}
	for _, status := range c.Project.Statuses {
		if status.Name == "" {
			return fmt.Errorf("config.project.statuses contains a status without a name")
		}
		if status.State != "" && !validStates[status.State] {
			return fmt.Errorf("status %s has invalid state %q", status.Name, status.State)
		}
		if status.Color != "" && !colorPattern.MatchString(status.Color) {
			return fmt.Errorf("status %s has invalid color %q", status.Name, status.Color)
		}
		for _, scope := range status.Scope {
			if !validScopes[scope] {
				return fmt.Errorf("status %s has invalid scope entry %q", status.Name, scope)
			}
		}
	}
	if len(c.Project.FolderTypes) == 0 {
		return fmt.Errorf("config.project.folder_types must define at least one type")
	}
	if len(c.Project.TaskTypes) == 0 {
		return fmt.Errorf("config.project.task_types must define at least one type")
	}
	seen := map[string]bool{}
	for _, attr := range c.Attributes {
		if attr.Name == "" {
			return fmt.Errorf("config.attributes contains an attribute without a name")
		}
		if seen[attr.Name] {
			return fmt.Errorf("attribute %s is declared twice", attr.Name)
		}
		seen[attr.Name] = true
		if !validAttrTypes[attr.Data.Type] {
			return fmt.Errorf("attribute %s has invalid type %q", attr.Name, attr.Data.Type)
		}
		if len(attr.Scope) == 0 {
			return fmt.Errorf("attribute %s needs at least one scope entry", attr.Name)
		}
		for _, scope := range attr.Scope {
			if !validScopes[scope] {
				return fmt.Errorf("attribute %s has invalid scope entry %q", attr.Name, scope)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "trackline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectName string) string {
	return fmt.Sprintf(defaultTemplate, projectName)
}

// Default returns the default Config struct for a project.
func Default(projectName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:5420
  base_path: /api

auth:
  jwt_secret: ""

project:
  name: %s
  code: tl
  library: false

  folder_types:
    - name: Folder
      short_name: ""
      icon: folder
    - name: Asset
      short_name: ""
      icon: smart_toy
    - name: Episode
      short_name: ep
      icon: live_tv
    - name: Sequence
      short_name: sq
      icon: theaters
    - name: Shot
      short_name: sh
      icon: movie

  task_types:
    - name: Generic
      short_name: gener
      icon: task_alt
    - name: Modeling
      short_name: mdl
      icon: language
    - name: Texture
      short_name: tex
      icon: brush
    - name: Rigging
      short_name: rig
      icon: construction
    - name: Animation
      short_name: anim
      icon: directions_run
    - name: Compositing
      short_name: comp
      icon: layers

  statuses:
    - name: Not ready
      state: not_started
      icon: fiber_new
      color: "#434a56"
    - name: Ready to start
      state: not_started
      icon: timer
      color: "#bababa"
    - name: In progress
      state: in_progress
      icon: play_arrow
      color: "#3498db"
    - name: Pending review
      state: in_progress
      icon: visibility
      color: "#ff9b0a"
    - name: Approved
      state: done
      icon: task_alt
      color: "#00f0b4"
    - name: On hold
      state: blocked
      icon: back_hand
      color: "#fa6e46"
    - name: Omitted
      state: blocked
      icon: block
      color: "#cb1a1a"

  attrib:
    fps: 25
    resolutionWidth: 1920
    resolutionHeight: 1080

attributes:
  - name: fps
    scope: [project, folder, task, version]
    data:
      type: float
      title: FPS
  - name: resolutionWidth
    scope: [project, folder, task, version]
    data:
      type: integer
      title: Width
  - name: resolutionHeight
    scope: [project, folder, task, version]
    data:
      type: integer
      title: Height
  - name: frameStart
    scope: [project, folder, task, version]
    data:
      type: integer
      title: Start frame
  - name: frameEnd
    scope: [project, folder, task, version]
    data:
      type: integer
      title: End frame
  - name: priority
    scope: [folder, task]
    data:
      type: string
      title: Priority
      enum: [urgent, high, normal, low]
  - name: description
    scope: [project, folder, task, version, workfile]
    data:
      type: string
      title: Description
  - name: extension
    scope: [workfile, representation]
    data:
      type: string
      title: File extension
`
