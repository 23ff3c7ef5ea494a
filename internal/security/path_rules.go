package security

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var restrictedPaths = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/etc/gshadow",
	"/etc/master.passwd",
	"/etc/sudoers",
	"/etc/sudoers.d",
	"/proc",
	"/sys",
	"/dev",
}

// matchRestricted reports the blocklisted prefix that p falls under. macOS
// resolves /etc to /private/etc, so both forms are checked.
func matchRestricted(p string) (string, bool) {
	slashed := filepath.ToSlash(p)
	for _, restricted := range restrictedPaths {
		for _, candidate := range []string{restricted, "/private" + restricted} {
			if slashed == candidate || strings.HasPrefix(slashed, candidate+"/") {
				return restricted, true
			}
		}
	}
	return "", false
}

type sensitiveRule struct {
	description string
	match       func(slashed, base string) bool
	// globs are file or directory name patterns that cover the rule, for
	// search tools that can skip them up front.
	globs []string
}

func hasDirComponent(slashed string, dirs ...string) bool {
	for _, dir := range dirs {
		if strings.Contains(slashed, "/"+dir+"/") || strings.HasSuffix(slashed, "/"+dir) {
			return true
		}
	}
	return false
}

func hasPathSuffix(slashed string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(slashed, "/"+suffix) {
			return true
		}
	}
	return false
}

var privateKeyNames = map[string]bool{
	"id_rsa":        true,
	"id_dsa":        true,
	"id_ecdsa":      true,
	"id_ecdsa_sk":   true,
	"id_ed25519":    true,
	"id_ed25519_sk": true,
}

var tokenConfigNames = map[string]bool{
	".git-credentials": true,
	".netrc":           true,
	"_netrc":           true,
	".npmrc":           true,
	".yarnrc":          true,
	".yarnrc.yml":      true,
	".pypirc":          true,
	".pgpass":          true,
}

var secretWords = []string{"credential", "credentials", "secret", "secrets"}

var sensitiveRules = []sensitiveRule{
	{
		description: "SSH keys and configuration",
		match:       func(s, _ string) bool { return hasDirComponent(s, ".ssh") },
		globs:       []string{".ssh"},
	},
	{
		description: "AWS credentials",
		match:       func(s, _ string) bool { return hasDirComponent(s, ".aws") },
		globs:       []string{".aws"},
	},
	{
		description: "GPG keyring",
		match:       func(s, _ string) bool { return hasDirComponent(s, ".gnupg") },
		globs:       []string{".gnupg"},
	},
	{
		description: "Google Cloud credentials",
		match:       func(s, _ string) bool { return hasDirComponent(s, ".config/gcloud") },
		globs:       []string{"gcloud"},
	},
	{
		description: "Azure credentials",
		match:       func(s, _ string) bool { return hasDirComponent(s, ".azure") },
		globs:       []string{".azure"},
	},
	{
		description: "credentials or secrets file",
		match: func(s, base string) bool {
			name := strings.TrimPrefix(base, ".")
			for _, word := range secretWords {
				if name == word || strings.HasPrefix(name, word+".") || strings.HasPrefix(name, word+"_") || strings.HasPrefix(name, word+"-") {
					return true
				}
			}
			return hasDirComponent(s, "secrets", ".secrets", "credentials")
		},
		globs: secretGlobs(),
	},
	{
		description: "environment file",
		match: func(_, base string) bool {
			return base == ".env" || strings.Contains(base, ".env.") || strings.HasSuffix(base, ".env")
		},
		globs: []string{".env", ".env.*", "*.env"},
	},
	{
		description: "private key",
		match: func(_, base string) bool {
			if privateKeyNames[base] {
				return true
			}
			switch path.Ext(base) {
			case ".pem", ".key", ".p12", ".pfx":
				return true
			}
			return false
		},
		globs: append(lo.Keys(privateKeyNames), "*.pem", "*.key", "*.p12", "*.pfx"),
	},
	{
		description: "configuration file that may contain tokens",
		match: func(s, base string) bool {
			return tokenConfigNames[base] || hasPathSuffix(s,
				".docker/config.json",
				".kube/config",
				".cargo/credentials",
				".cargo/credentials.toml",
				".gem/credentials",
				".config/gh/hosts.yml",
			)
		},
		globs: append(lo.Keys(tokenConfigNames), ".docker", ".kube"),
	},
}

func secretGlobs() []string {
	var globs []string
	for _, word := range secretWords {
		for _, name := range []string{word, "." + word} {
			globs = append(globs, name, name+".*", name+"_*", name+"-*")
		}
	}
	return globs
}

// SensitiveGlobs returns name patterns covering the sensitive file rules,
// sorted. Search tools use them to skip protected files up front. They do not
// express every rule, so search results still go through Validate.
func SensitiveGlobs() []string {
	var globs []string
	for _, rule := range sensitiveRules {
		globs = append(globs, rule.globs...)
	}
	globs = lo.Uniq(globs)
	sort.Strings(globs)
	return globs
}

var envTemplateSuffixes = []string{".env.example", ".env.sample", ".env.template"}

// matchSensitive reports whether p matches a sensitive file rule. Environment
// templates are readable, never writable.
func matchSensitive(p string, op Operation) (string, bool) {
	slashed := strings.ToLower(filepath.ToSlash(p))
	base := path.Base(slashed)

	if op == OpRead {
		for _, suffix := range envTemplateSuffixes {
			if strings.HasSuffix(base, suffix) {
				return "", false
			}
		}
	}

	for _, rule := range sensitiveRules {
		if rule.match(slashed, base) {
			return rule.description, true
		}
	}
	return "", false
}
