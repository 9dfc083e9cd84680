// Package prerequisites checks that the host tools the deployment shells out
// to are installed before any stage runs.
package prerequisites

import (
	"fmt"
	"os/exec"
	"strings"
)

// Tool represents a host binary the deployment may need.
type Tool struct {
	// Name is the binary name to look for in PATH.
	Name string

	// Required indicates if this tool is mandatory.
	Required bool

	// Description explains what the tool is used for.
	Description string

	// Package is the Ubuntu package that provides the binary.
	Package string
}

// DefaultTools returns the tools every deployment needs.
func DefaultTools() []Tool {
	return []Tool{
		{Name: "apt-get", Required: true, Description: "Installs packages", Package: "apt"},
		{Name: "dpkg", Required: true, Description: "Queries installed packages", Package: "dpkg"},
		{Name: "systemctl", Required: true, Description: "Manages services and the resume unit", Package: "systemd"},
		{Name: "lsmod", Required: true, Description: "Detects loaded kernel modules", Package: "kmod"},
	}
}

// OptionalTools returns tools that stages install themselves when missing.
func OptionalTools() []Tool {
	return []Tool{
		{Name: "curl", Description: "Downloads repository keys", Package: "curl"},
		{Name: "ufw", Description: "Configures the host firewall", Package: "ufw"},
		{Name: "nvidia-smi", Description: "Validates the NVIDIA driver", Package: "nvidia-utils"},
		{Name: "docker", Description: "Runs containers", Package: "docker-ce"},
	}
}

// CheckResult contains the result of checking a single tool.
type CheckResult struct {
	Tool  Tool
	Found bool
	Path  string
}

// CheckResults contains the results of checking multiple tools.
type CheckResults struct {
	Results []CheckResult
	Missing []Tool
}

// HasErrors returns true if any required tools are missing.
func (r *CheckResults) HasErrors() bool {
	for _, tool := range r.Missing {
		if tool.Required {
			return true
		}
	}
	return false
}

// Error returns an error if any required tools are missing.
func (r *CheckResults) Error() error {
	var missing []string
	for _, tool := range r.Missing {
		if tool.Required {
			missing = append(missing, fmt.Sprintf("%s (package %s)", tool.Name, tool.Package))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
}

// LookPathFunc resolves a binary name to its path.
type LookPathFunc func(name string) (string, error)

// Check verifies that the specified tools are available via lookPath. A nil
// lookPath uses exec.LookPath.
func Check(tools []Tool, lookPath LookPathFunc) *CheckResults {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	results := &CheckResults{}

	for _, tool := range tools {
		result := CheckResult{Tool: tool}
		if path, err := lookPath(tool.Name); err == nil {
			result.Found = true
			result.Path = path
		} else {
			results.Missing = append(results.Missing, tool)
		}
		results.Results = append(results.Results, result)
	}

	return results
}

// CheckDefault checks the default required tools.
func CheckDefault(lookPath LookPathFunc) *CheckResults {
	return Check(DefaultTools(), lookPath)
}

// CheckAll checks all tools (default + optional).
func CheckAll(lookPath LookPathFunc) *CheckResults {
	defaults := DefaultTools()
	optional := OptionalTools()
	all := make([]Tool, 0, len(defaults)+len(optional))
	all = append(all, defaults...)
	all = append(all, optional...)
	return Check(all, lookPath)
}
