package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

type commandCategory struct {
	description string
	commands    []string
}

var deniedCategories = []commandCategory{
	{"destructive filesystem operation", []string{
		"rm", "rmdir", "shred", "unlink", "truncate", "srm", "wipe",
	}},
	{"privilege escalation", []string{
		"sudo", "su", "doas", "pkexec", "runas", "chroot", "setcap", "capsh",
	}},
	{"shell or interpreter launcher", []string{
		"sh", "bash", "zsh", "fish", "dash", "ksh", "csh", "tcsh", "ash", "busybox",
		"eval", "exec", "source", ".", "xargs", "command", "builtin", "nsenter",
		"unshare", "script", "expect", "osascript",
	}},
	{"permission or ownership change", []string{
		"chmod", "chown", "chgrp", "chattr", "setfacl", "umask", "chflags",
	}},
	{"move, copy or link", []string{
		"mv", "cp", "ln", "install", "rsync", "link", "ditto",
	}},
	{"disk or partition tool", []string{
		"dd", "mkfs", "mkfs.ext2", "mkfs.ext3", "mkfs.ext4", "mkfs.xfs", "mkfs.btrfs",
		"mkfs.vfat", "mkfs.fat", "fdisk", "sfdisk", "cfdisk", "parted", "gdisk",
		"mkswap", "swapon", "swapoff", "wipefs", "mount", "umount", "losetup",
		"diskutil", "format", "fsck", "hdparm",
	}},
	{"network exfiltration tool", []string{
		"curl", "wget", "nc", "netcat", "ncat", "socat", "telnet", "ftp", "sftp",
		"scp", "ssh", "tftp", "aria2c", "rclone",
	}},
	{"process or service control", []string{
		"kill", "killall", "pkill", "systemctl", "service", "launchctl", "shutdown",
		"reboot", "halt", "poweroff", "init", "telinit", "renice",
	}},
	{"user management", []string{
		"useradd", "userdel", "usermod", "groupadd", "groupdel", "groupmod",
		"passwd", "chpasswd", "adduser", "deluser", "visudo", "chsh", "dscl",
	}},
	{"task scheduler", []string{
		"crontab", "at", "batch", "atq", "atrm", "anacron",
	}},
}

var allowedCategories = []commandCategory{
	{"navigation and inspection", []string{
		"ls", "pwd", "tree", "find", "fd", "stat", "file", "du", "df", "realpath",
		"readlink", "basename", "dirname", "which", "whereis", "cat", "head", "tail",
		"wc", "xxd", "hexdump", "od", "strings", "md5sum", "sha1sum", "sha256sum",
		"shasum", "cksum", "diff", "cmp", "comm",
	}},
	{"text processing", []string{
		"grep", "egrep", "fgrep", "rg", "ag", "ack", "sed", "awk", "gawk", "cut",
		"sort", "uniq", "tr", "paste", "column", "fold", "fmt", "nl", "rev", "tac",
		"jq", "yq", "echo", "printf", "seq", "expand", "unexpand", "join",
	}},
	{"version control", []string{
		"git", "hg", "svn", "gh",
	}},
	{"build, test and lint", []string{
		"make", "cmake", "ninja", "go", "gofmt", "cargo", "rustc", "rustfmt", "npm",
		"npx", "yarn", "pnpm", "bun", "pip", "pip3", "poetry", "uv", "mvn", "gradle",
		"javac", "java", "dotnet", "tsc", "bazel", "pytest", "jest", "vitest",
		"mocha", "eslint", "prettier", "golangci-lint", "staticcheck", "black",
		"ruff", "flake8", "mypy", "pylint", "shellcheck", "rubocop",
	}},
	{"environment queries", []string{
		"date", "whoami", "id", "hostname", "uname", "printenv", "uptime", "nproc",
		"free", "ps", "locale", "arch", "groups", "true", "false", "test", "sleep",
	}},
	{"archives", []string{
		"tar", "zip", "unzip", "gzip", "gunzip", "zcat", "bzip2", "bunzip2", "xz",
		"unxz", "7z",
	}},
	{"network diagnostics", []string{
		"ping", "dig", "nslookup", "host", "traceroute", "tracepath", "whois",
	}},
	{"containers", []string{
		"docker", "docker-compose", "podman", "kubectl", "helm",
	}},
	{"runtimes", []string{
		"python", "python3", "node", "deno", "ruby", "perl", "php",
	}},
}

var (
	deniedCommands  = indexCategories(deniedCategories)
	allowedCommands = indexCategories(allowedCategories)
)

func indexCategories(categories []commandCategory) map[string]string {
	index := make(map[string]string)
	for _, category := range categories {
		for _, cmd := range category.commands {
			index[cmd] = category.description
		}
	}
	return index
}

// IsDenied reports whether base is on the fixed deny list.
func IsDenied(base string) bool {
	_, ok := deniedCommands[strings.ToLower(base)]
	return ok
}

// IsAllowed reports whether base is on the fixed allow list.
func IsAllowed(base string) bool {
	_, ok := allowedCommands[strings.ToLower(base)]
	return ok
}

// argumentRules holds layer 5: per-command checks on otherwise allowed commands.
// A rule returns a non-empty reason when the arguments are dangerous.
var argumentRules = map[string]func(args []string) string{
	"git":     gitRule,
	"docker":  containerRule,
	"podman":  containerRule,
	"tar":     tarRule,
	"python":  inlineEvalRule("python", pythonFlags),
	"python3": inlineEvalRule("python3", pythonFlags),
	"ruby":    inlineEvalRule("ruby", rubyFlags),
	"perl":    inlineEvalRule("perl", perlFlags),
	"php":     inlineEvalRule("php", phpFlags),
	"node":    inlineEvalRule("node", nodeFlags),
	"deno":    denoRule,
	"find":    findRule,
	"sed":     sedRule,
	"awk":     awkRule,
	"gawk":    awkRule,
	"zip":     zipRule,
}

func gitRule(args []string) string {
	sub := ""
	rest := []string{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if sub == "" {
			switch {
			case arg == "-c" || strings.HasPrefix(arg, "--config-env"):
				return "git -c/--config-env inline configuration can execute arbitrary commands"
			case arg == "-C" || arg == "--git-dir" || arg == "--work-tree" || arg == "--namespace":
				i++
				continue
			case strings.HasPrefix(arg, "-"):
				continue
			}
			sub = arg
			continue
		}
		rest = append(rest, arg)
	}

	switch sub {
	case "push":
		for _, arg := range rest {
			if arg == "-f" || arg == "--force" || arg == "--mirror" ||
				strings.HasPrefix(arg, "--force-with-lease") || arg == "--force-if-includes" ||
				(isShortCluster(arg) && strings.Contains(arg, "f")) ||
				(strings.HasPrefix(arg, "+") && len(arg) > 1) {
				return "forced git push rewrites remote history; push without --force"
			}
		}
	case "reset":
		for _, arg := range rest {
			if arg == "--hard" {
				return "git reset --hard discards uncommitted work"
			}
		}
	case "clean":
		for _, arg := range rest {
			if arg == "--force" || (isShortCluster(arg) && strings.Contains(arg, "f")) {
				return "git clean -f permanently deletes untracked files"
			}
		}
	}
	return ""
}

func containerRule(args []string) string {
	for i, arg := range args {
		next := ""
		if i+1 < len(args) {
			next = args[i+1]
		}
		switch {
		case arg == "--privileged" || strings.HasPrefix(arg, "--privileged="):
			return "privileged containers can take over the host"
		case strings.HasPrefix(arg, "--cap-add"):
			return "adding container capabilities is not allowed"
		case strings.HasPrefix(arg, "--device"):
			return "passing host devices into containers is not allowed"
		case strings.HasPrefix(arg, "--security-opt"):
			return "overriding container security options is not allowed"
		}

		for _, ns := range []string{"--pid", "--network", "--net", "--ipc", "--uts", "--userns"} {
			if arg == ns+"=host" || (arg == ns && next == "host") {
				return fmt.Sprintf("sharing the host namespace (%s host) is not allowed", ns)
			}
		}

		if arg == "-v" || arg == "--volume" || arg == "--mount" {
			if why := checkMount(next); why != "" {
				return why
			}
		}
		for _, prefix := range []string{"--volume=", "--mount=", "-v"} {
			if strings.HasPrefix(arg, prefix) && len(arg) > len(prefix) {
				if why := checkMount(strings.TrimPrefix(arg, prefix)); why != "" {
					return why
				}
			}
		}
	}
	return ""
}

func checkMount(spec string) string {
	if spec == "" {
		return ""
	}
	source := spec
	if strings.Contains(spec, "source=") || strings.Contains(spec, "src=") {
		for _, field := range strings.Split(spec, ",") {
			if k, v, ok := strings.Cut(field, "="); ok && (k == "source" || k == "src") {
				source = v
			}
		}
	} else if before, _, ok := strings.Cut(spec, ":"); ok {
		source = before
	}
	switch {
	case source == "/":
		return "mounting the host root filesystem into a container is not allowed"
	case strings.Contains(source, "docker.sock"):
		return "mounting the container runtime socket is not allowed"
	case source == "/etc" || strings.HasPrefix(source, "/etc/"):
		return "mounting host system configuration into a container is not allowed"
	}
	return ""
}

// tarExecOptions are the long options that make tar run another program.
// GNU tar accepts any unambiguous prefix of a long option.
var tarExecOptions = []string{"to-command", "checkpoint-action", "use-compress-program", "rsh-command", "info-script", "new-volume-script"}

// tarSafeOptions are complete option names that are themselves prefixes of
// an entry in tarExecOptions.
var tarSafeOptions = map[string]bool{"checkpoint": true}

// tarValueFlags are the short options whose value ends a bundled cluster.
const tarValueFlags = "fCTXbgKLNVH"

func tarRule(args []string) string {
	for i, arg := range args {
		if long, ok := strings.CutPrefix(arg, "--"); ok {
			name, _, _ := strings.Cut(long, "=")
			if len(name) < 3 || tarSafeOptions[name] {
				continue
			}
			for _, opt := range tarExecOptions {
				if strings.HasPrefix(opt, name) {
					return fmt.Sprintf("tar option --%s can execute arbitrary commands", opt)
				}
			}
			continue
		}

		// Short clusters, including the old dash-less form of the first argument.
		cluster, ok := strings.CutPrefix(arg, "-")
		if !ok && i > 0 {
			continue
		}
		for _, r := range cluster {
			if r == 'I' || r == 'F' {
				return fmt.Sprintf("tar option -%c can execute arbitrary commands", r)
			}
			if strings.ContainsRune(tarValueFlags, r) {
				break
			}
		}
	}
	return ""
}

// interpreterFlags describes the command line of a script interpreter well
// enough to find inline evaluation anywhere before the script path.
type interpreterFlags struct {
	// eval are short flags that run code given on the command line.
	eval string
	// value are short flags that take a value, attached or as the next argument.
	value string
	// attached are short flags whose optional value can only be attached.
	attached string
	// stop are short flags after which the remaining arguments belong to
	// something else, such as python -m.
	stop string
	// longEval and longValue are long options, without the leading dashes.
	longEval  []string
	longValue []string
}

var (
	pythonFlags = interpreterFlags{eval: "c", value: "WX", stop: "m", longValue: []string{"check-hash-based-pycs"}}
	rubyFlags   = interpreterFlags{eval: "e", value: "ICEFr", attached: "0ilTWxK", longValue: []string{"encoding", "external-encoding", "internal-encoding"}}
	perlFlags   = interpreterFlags{eval: "eE", value: "I", attached: "0CDdFilMmx"}
	phpFlags    = interpreterFlags{eval: "rBRE", value: "cdfztSF"}
	nodeFlags   = interpreterFlags{
		eval:      "ep",
		value:     "rC",
		longEval:  []string{"eval", "print"},
		longValue: []string{"require", "import", "loader", "experimental-loader", "conditions", "input-type", "title", "env-file"},
	}
)

// inlineEvalRule rejects flags that evaluate code passed on the command line.
// Every argument before the script path is examined, skipping flag values.
func inlineEvalRule(name string, f interpreterFlags) func(args []string) string {
	return func(args []string) string {
		for i := 0; i < len(args); i++ {
			arg := args[i]
			if arg == "--" || arg == "-" || !strings.HasPrefix(arg, "-") {
				return ""
			}

			if long, ok := strings.CutPrefix(arg, "--"); ok {
				opt, _, hasValue := strings.Cut(long, "=")
				if lo.Contains(f.longEval, opt) {
					return fmt.Sprintf("%s inline code evaluation (%s) is not allowed; write a script file and run it", name, arg)
				}
				if lo.Contains(f.longValue, opt) && !hasValue {
					i++
				}
				continue
			}

			cluster := arg[1:]
			for j, r := range cluster {
				if strings.ContainsRune(f.eval, r) {
					return fmt.Sprintf("%s inline code evaluation (%s) is not allowed; write a script file and run it", name, arg)
				}
				if strings.ContainsRune(f.stop, r) {
					return ""
				}
				if strings.ContainsRune(f.attached, r) {
					break
				}
				if strings.ContainsRune(f.value, r) {
					if j == len(cluster)-1 {
						i++
					}
					break
				}
			}
		}
		return ""
	}
}

func denoRule(args []string) string {
	if len(args) > 0 && args[0] == "eval" {
		return "deno eval runs inline code; write a script file and run it"
	}
	return ""
}

func findRule(args []string) string {
	for _, arg := range args {
		switch arg {
		case "-exec", "-execdir", "-ok", "-okdir":
			return fmt.Sprintf("find %s runs arbitrary commands", arg)
		case "-delete":
			return "find -delete removes files"
		case "-fprint", "-fprint0", "-fprintf", "-fls":
			return fmt.Sprintf("find %s writes files", arg)
		}
	}
	return ""
}

func sedRule(args []string) string {
	for _, arg := range args {
		if arg == "--in-place" || strings.HasPrefix(arg, "--in-place=") || strings.HasPrefix(arg, "-i") ||
			(isShortCluster(arg) && strings.Contains(arg, "i")) {
			return "sed in-place editing modifies files; use edit_file instead"
		}
	}
	return ""
}

var awkSystemCall = regexp.MustCompile(`\bsystem\s*\(`)

func awkRule(args []string) string {
	for _, arg := range args {
		if awkSystemCall.MatchString(arg) {
			return "awk system() runs arbitrary commands"
		}
	}
	return ""
}

func zipRule(args []string) string {
	for _, arg := range args {
		if arg == "-TT" || strings.HasPrefix(arg, "--unzip-command") {
			return "zip -TT runs an arbitrary test command"
		}
	}
	return ""
}

// isShortCluster reports whether arg looks like a bundle of short flags (-xvf).
func isShortCluster(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' || arg[1] == '-' {
		return false
	}
	for _, r := range arg[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
