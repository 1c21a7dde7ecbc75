package supervisor

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// DefaultAllowedCommands is the baseline tool allowlist exported to every
// session when the project defines no policy of its own.
var DefaultAllowedCommands = []string{
	"go", "git", "make", "ls", "cat", "grep", "sed", "find",
}

// Policy describes what a session is allowed to do on the host. Sessions
// receive the policy through their environment; enforcement is the agent
// binary's job, the supervisor only provisions it.
type Policy struct {
	// AllowedCommands lists executables the agent may invoke.
	AllowedCommands []string
	// Env holds extra variables exported verbatim to sessions.
	Env map[string]string
}

// policyFile is the agent_policy section of the project config file.
type policyFile struct {
	AgentPolicy struct {
		AllowedCommands []string          `yaml:"allowed_commands"`
		Env             map[string]string `yaml:"env"`
	} `yaml:"agent_policy"`
}

// LoadPolicy reads the session policy from the project config file. A
// missing file yields the default policy; a malformed one is an error so a
// typo cannot silently widen what sessions may run.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Policy{AllowedCommands: append([]string{}, DefaultAllowedCommands...)}, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	var cfg policyFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	p := Policy{
		AllowedCommands: cfg.AgentPolicy.AllowedCommands,
		Env:             cfg.AgentPolicy.Env,
	}
	if len(p.AllowedCommands) == 0 {
		p.AllowedCommands = append([]string{}, DefaultAllowedCommands...)
	}
	return p, nil
}

// Environ renders the policy as environment variable assignments for a
// session, suitable for Config.ExtraEnv.
func (p Policy) Environ() []string {
	env := []string{
		"FOREMAN_ALLOWED_COMMANDS=" + strings.Join(p.AllowedCommands, ","),
	}
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	return env
}
