package core

import (
	"os"
	"path/filepath"
)

// ProjectDirName is the per-project directory that holds local agent definitions.
const ProjectDirName = ".gsh"

type Paths struct {
	HomeDir    string
	DataDir    string
	LogFile    string
	AuditFile  string
	ConfigFile string
	AgentsDir  string
}

var defaultPaths *Paths

func ensureDefaultPaths() {
	if defaultPaths == nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			panic(err)
		}

		dataDir := filepath.Join(homeDir, ProjectDirName)
		defaultPaths = &Paths{
			HomeDir:    homeDir,
			DataDir:    dataDir,
			LogFile:    filepath.Join(dataDir, "gsh-agent.log"),
			AuditFile:  filepath.Join(dataDir, "audit.db"),
			ConfigFile: filepath.Join(dataDir, "agent.yaml"),
			AgentsDir:  filepath.Join(dataDir, "agents"),
		}

		err = os.MkdirAll(defaultPaths.DataDir, 0755)
		if err != nil {
			panic(err)
		}
	}
}

func HomeDir() string {
	ensureDefaultPaths()
	return defaultPaths.HomeDir
}

func LogFile() string {
	ensureDefaultPaths()
	return defaultPaths.LogFile
}

func AuditFile() string {
	ensureDefaultPaths()
	return defaultPaths.AuditFile
}

func ConfigFile() string {
	ensureDefaultPaths()
	return defaultPaths.ConfigFile
}

// UserAgentsDir is the user-global search root for subagent definitions.
func UserAgentsDir() string {
	ensureDefaultPaths()
	return defaultPaths.AgentsDir
}

// ProjectAgentsDir is the project-local search root for subagent definitions.
func ProjectAgentsDir(workDir string) string {
	return filepath.Join(workDir, ProjectDirName, "agents")
}
