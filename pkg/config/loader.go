package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

// Loader parses configuration files and validates the result.
type Loader struct {
	cuectx   *cue.Context
	validate *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cuectx:   cuecontext.New(),
		validate: validator.New(),
	}
}

// Load reads, parses and validates the configuration file at path. The
// format is chosen by extension: .cue for CUE, .yaml/.yml for YAML.
// Failures come back as taxonomy errors so they render with stable
// codes at the API surface.
func (l *Loader) Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apierror.NewUser(1005).WithMessage(path)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, apierror.NewUser(1112).WithMessage(path)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		err = l.parseCUE(content, path, &cfg)
	case ".yaml", ".yml":
		err = l.parseYAML(content, &cfg)
	default:
		return nil, apierror.NewUser(1113).WithMessage(fmt.Sprintf("unsupported config format %q", ext))
	}
	if err != nil {
		return nil, err
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCUEString parses inline CUE content, mainly for tests and the
// config check command.
func (l *Loader) ParseCUEString(content string) (*Config, error) {
	cfg := Default()
	if err := l.parseCUE([]byte(content), "inline.cue", &cfg); err != nil {
		return nil, err
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) parseCUE(content []byte, filename string, cfg *Config) error {
	val := l.cuectx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return apierror.NewUser(1113).WithMessage(cueDetails(err))
	}
	if err := val.Decode(cfg); err != nil {
		return apierror.NewUser(1113).WithMessage(cueDetails(err))
	}
	return nil
}

func (l *Loader) parseYAML(content []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return apierror.NewUser(1113).WithMessage(err.Error())
	}
	return nil
}

// Validate checks struct constraints and cluster topology invariants.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return apierror.NewUser(1115).WithMessage(validationDetails(err))
	}

	if len(cfg.Cluster.Nodes) > 0 && cfg.Cluster.InventoryFile != "" {
		return apierror.NewUser(1115).WithMessage("cluster.nodes and cluster.inventory_file are mutually exclusive")
	}
	if len(cfg.Cluster.Nodes) == 0 && cfg.Cluster.InventoryFile == "" {
		return apierror.NewUser(1115).WithMessage("cluster membership is required: set cluster.nodes or cluster.inventory_file")
	}

	if len(cfg.Cluster.Nodes) > 0 {
		nodes := cfg.Cluster.ClusterNodes()
		if err := cluster.Validate(nodes); err != nil {
			return apierror.NewUser(1115).WithMessage(err.Error())
		}
		if err := membershipIncludes(nodes, cfg.Node); err != nil {
			return apierror.NewUser(1115).WithMessage(err.Error())
		}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		return apierror.NewUser(1115).WithMessage(err.Error())
	}
	return nil
}

// membershipIncludes checks that the local node appears in the
// membership list with a matching role.
func membershipIncludes(nodes []cluster.Node, local NodeConfig) error {
	for _, n := range nodes {
		if n.Name == local.Name {
			if string(n.Role) != local.Role {
				return fmt.Errorf("node %s is configured as %s but listed as %s in cluster.nodes", local.Name, local.Role, n.Role)
			}
			return nil
		}
	}
	return fmt.Errorf("node %s does not appear in cluster.nodes", local.Name)
}

func cueDetails(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, cueerrors.Details(e, nil))
	}
	return strings.Join(parts, "; ")
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
